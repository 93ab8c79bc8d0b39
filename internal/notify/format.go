package notify

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
)

// FormatEvent renders ev as an alert. Ratios carried as WAD strings are
// shown as percentages and token amounts to four places.
func FormatEvent(ev domain.Event) Alert {
	source := ev.Source
	if ev.Position != nil && ev.Position.PositionID != "" {
		source = ev.Position.PositionID
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	switch ev.Kind {
	case domain.EventDeleveraged:
		sev := SeverityWarning
		if ev.Data["reason"] == "ltv" {
			sev = SeverityCritical
		}
		return Alert{
			Title: "Deleveraged " + source,
			Body: fmt.Sprintf("LTV %s -> %s, repaid %s (reason: %v)",
				percent(ev.Data["fromLTV"]), percent(ev.Data["toLTV"]),
				amount(ev.Data["repaid"]), ev.Data["reason"]),
			Severity: sev,
			At:       at,
		}
	case domain.EventBorrowThresholdModified:
		return Alert{
			Title:    "Borrow threshold changed on " + source,
			Body:     "Borrow interest threshold is now " + percent(ev.Data["threshold"]),
			Severity: SeverityInfo,
			At:       at,
		}
	case domain.EventMaxLTVModified:
		return Alert{
			Title:    "Max LTV changed on " + source,
			Body:     "Max LTV is now " + percent(ev.Data["newMaxLTV"]),
			Severity: SeverityInfo,
			At:       at,
		}
	}

	keys := make([]string, 0, len(ev.Data))
	for k := range ev.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, ev.Data[k])
	}
	return Alert{
		Title:    fmt.Sprintf("%s on %s", ev.Kind, source),
		Body:     strings.Join(parts, " "),
		Severity: SeverityInfo,
		At:       at,
	}
}

func wadValue(v any) (*big.Int, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	return new(big.Int).SetString(s, 10)
}

func percent(v any) string {
	x, ok := wadValue(v)
	if !ok {
		return fmt.Sprint(v)
	}
	return fixedpoint.ToDecimal(x).Shift(2).StringFixed(2) + "%"
}

func amount(v any) string {
	x, ok := wadValue(v)
	if !ok {
		return fmt.Sprint(v)
	}
	return fixedpoint.ToDecimal(x).StringFixed(4)
}
