package market

import (
	"fmt"
	"strings"
	"time"
)

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

// TFStringToSeconds accepts the M/H/D/W notation as well as the exchange
// style 1m/4h/1d.
func TFStringToSeconds(tf string) (int32, error) {
	switch strings.ToUpper(strings.TrimSpace(tf)) {
	case "M1", "1M":
		return 60, nil
	case "M5", "5M":
		return 300, nil
	case "M15", "15M":
		return 900, nil
	case "M30", "30M":
		return 1800, nil
	case "H1", "1H":
		return 3600, nil
	case "H4", "4H":
		return 14400, nil
	case "D1", "1D":
		return 86400, nil
	case "W1", "1W":
		return 604800, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe string: %s", tf)
	}
}

// TFDuration is TFStringToSeconds as a time.Duration.
func TFDuration(tf string) (time.Duration, error) {
	sec, err := TFStringToSeconds(tf)
	if err != nil {
		return 0, err
	}
	return time.Duration(sec) * time.Second, nil
}

// PeriodsPerYear is the number of bars in a 365 day year; crypto trades
// around the clock.
func PeriodsPerYear(tf string) (float64, error) {
	sec, err := TFStringToSeconds(tf)
	if err != nil {
		return 0, err
	}
	return float64(365*24*3600) / float64(sec), nil
}
