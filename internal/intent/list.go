package intent

import (
	"encoding/json"
	"fmt"
)

// List is a JSON-persistable slice of intents.
type List []Intent

type envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (l List) MarshalJSON() ([]byte, error) {
	out := make([]envelope, 0, len(l))
	for _, it := range l {
		b, err := json.Marshal(it)
		if err != nil {
			return nil, err
		}
		out = append(out, envelope{Type: it.Kind(), Data: b})
	}
	return json.Marshal(out)
}

func (l *List) UnmarshalJSON(b []byte) error {
	var raw []envelope
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(List, 0, len(raw))
	for i, e := range raw {
		var (
			it  Intent
			err error
		)
		switch e.Type {
		case KindERC20:
			var v ERC20
			err = json.Unmarshal(e.Data, &v)
			it = v
		case KindERC721:
			var v ERC721
			err = json.Unmarshal(e.Data, &v)
			it = v
		case KindERC1155:
			var v ERC1155
			err = json.Unmarshal(e.Data, &v)
			it = v
		case KindCustom:
			var v Custom
			err = json.Unmarshal(e.Data, &v)
			it = v
		default:
			return fmt.Errorf("intent %d: %w %q", i, ErrUnknownKind, e.Type)
		}
		if err != nil {
			return fmt.Errorf("intent %d: %w", i, err)
		}
		out = append(out, it)
	}
	*l = out
	return nil
}
