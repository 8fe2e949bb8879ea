package sender

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/toncenter/ton-dispatch-go/models"
)

type ChoiceKind int

const (
	ChoiceExternal ChoiceKind = iota
	ChoiceBattery
	ChoiceGasless
	ChoiceMultisig
)

// allChoiceKinds lists every variant. Consumers switching on ChoiceKind are tested against it.
var allChoiceKinds = []ChoiceKind{ChoiceExternal, ChoiceBattery, ChoiceGasless, ChoiceMultisig}

func (k ChoiceKind) String() string {
	switch k {
	case ChoiceExternal:
		return "external"
	case ChoiceBattery:
		return "battery"
	case ChoiceGasless:
		return "gasless"
	case ChoiceMultisig:
		return "multisig"
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

func ParseChoiceKind(value string) (ChoiceKind, error) {
	for _, k := range allChoiceKinds {
		if k.String() == value {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown sender choice %q", value)
}

// Choice is one way to pay for and deliver an operation.
type Choice struct {
	Kind ChoiceKind
	// Asset is the jetton paying the relay fee of a gasless choice.
	Asset models.AccountAddress
	// TTL is the lifetime of a multisig order.
	TTL time.Duration
}

func External() Choice { return Choice{Kind: ChoiceExternal} }
func Battery() Choice  { return Choice{Kind: ChoiceBattery} }

func Gasless(asset models.AccountAddress) Choice {
	return Choice{Kind: ChoiceGasless, Asset: asset}
}

func Multisig(ttl time.Duration) Choice {
	return Choice{Kind: ChoiceMultisig, TTL: ttl}
}

type choiceJSON struct {
	Kind       string                `json:"kind"`
	Asset      models.AccountAddress `json:"asset,omitempty"`
	TTLSeconds int64                 `json:"ttl_seconds,omitempty"`
}

func (c Choice) MarshalJSON() ([]byte, error) {
	return json.Marshal(choiceJSON{Kind: c.Kind.String(), Asset: c.Asset, TTLSeconds: int64(c.TTL / time.Second)})
}

func (c *Choice) UnmarshalJSON(b []byte) error {
	var raw choiceJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	kind, err := ParseChoiceKind(raw.Kind)
	if err != nil {
		return err
	}
	*c = Choice{Kind: kind, Asset: raw.Asset, TTL: time.Duration(raw.TTLSeconds) * time.Second}
	return nil
}
