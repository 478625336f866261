package market

import (
	"fmt"
	"time"
)

// Timeframe is a bar length in seconds.
type Timeframe int32

const (
	H1 Timeframe = 3600
	H4 Timeframe = 4 * 3600
	D1 Timeframe = 86400
)

func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf) * time.Second
}

// Start returns the UTC-aligned open time of the tf bar containing t.
func (tf Timeframe) Start(t time.Time) time.Time {
	u := t.UTC().Unix()
	s := int64(tf)
	return time.Unix((u/s)*s, 0).UTC()
}

func (tf Timeframe) String() string {
	s, err := SecondsToTFString(int32(tf))
	if err != nil {
		return fmt.Sprintf("TF(%d)", int32(tf))
	}
	return s
}

func SecondsToTFString(sec int32) (string, error) {
	if sec <= 0 {
		return "", fmt.Errorf("invalid timeframe seconds: %d", sec)
	}

	// Minutes
	if sec < 3600 && sec%60 == 0 {
		return fmt.Sprintf("M%d", sec/60), nil
	}

	// Hours
	if sec < 86400 && sec%3600 == 0 {
		return fmt.Sprintf("H%d", sec/3600), nil
	}

	// Days
	if sec%86400 == 0 {
		days := sec / 86400
		if days == 7 {
			return "W1", nil
		}
		return fmt.Sprintf("D%d", days), nil
	}

	return "", fmt.Errorf("cannot map timeframe: %d seconds", sec)
}

func ParseTimeframe(tf string) (Timeframe, error) {
	switch tf {
	case "M1":
		return 60, nil
	case "M5":
		return 300, nil
	case "M15":
		return 900, nil
	case "M30":
		return 1800, nil
	case "H1":
		return H1, nil
	case "H4":
		return H4, nil
	case "D1":
		return D1, nil
	case "W1":
		return 604800, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe string: %s", tf)
	}
}
