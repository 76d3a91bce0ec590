package diff

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// FormatText formats a layout diff as human-readable text.
func (ld *LayoutDiff) FormatText() string {
	var sb strings.Builder

	for _, b := range ld.Bundles {
		actionChar := getActionChar(b.Action)
		switch b.Action {
		case ActionAdded:
			sb.WriteString(fmt.Sprintf("%s %s (%s)\n", actionChar, b.Name, humanize.Bytes(b.NewSize)))
		case ActionRemoved:
			sb.WriteString(fmt.Sprintf("%s %s (%s)\n", actionChar, b.Name, humanize.Bytes(b.OldSize)))
		default:
			if b.OldSize != b.NewSize {
				sb.WriteString(fmt.Sprintf("%s %s (%s -> %s)\n", actionChar, b.Name, humanize.Bytes(b.OldSize), humanize.Bytes(b.NewSize)))
			} else {
				sb.WriteString(fmt.Sprintf("%s %s\n", actionChar, b.Name))
			}
		}

		for _, a := range b.Assets {
			sb.WriteString(formatAsset(a))
		}
		for _, d := range b.DependenciesAdded {
			sb.WriteString(fmt.Sprintf("  + depends on %s\n", d))
		}
		for _, d := range b.DependenciesRemoved {
			sb.WriteString(fmt.Sprintf("  - depends on %s\n", d))
		}
	}

	s := ld.Summary
	if s.BundlesAdded > 0 || s.BundlesModified > 0 || s.BundlesRemoved > 0 {
		sb.WriteString(fmt.Sprintf("\nSummary: %d bundles (%d added, %d modified, %d removed)\n",
			s.BundlesAdded+s.BundlesModified+s.BundlesRemoved,
			s.BundlesAdded, s.BundlesModified, s.BundlesRemoved))
		sb.WriteString(fmt.Sprintf("         %d assets (%d added, %d modified, %d removed, %d moved)\n",
			s.AssetsAdded+s.AssetsModified+s.AssetsRemoved+s.AssetsMoved,
			s.AssetsAdded, s.AssetsModified, s.AssetsRemoved, s.AssetsMoved))
		sb.WriteString(fmt.Sprintf("         size %s\n", formatDelta(s.SizeDelta)))
	}

	return sb.String()
}

func formatAsset(a AssetDiff) string {
	name := a.Path
	if name == "" {
		name = a.GUID
	}
	actionChar := getActionChar(a.Action)
	switch a.Action {
	case ActionMoved:
		return fmt.Sprintf("  %s %s (from %s)\n", actionChar, name, a.FromBundle)
	case ActionModified:
		return fmt.Sprintf("  %s %s: %s -> %s\n", actionChar, name, humanize.Bytes(a.OldSize), humanize.Bytes(a.NewSize))
	default:
		return fmt.Sprintf("  %s %s\n", actionChar, name)
	}
}

func getActionChar(action Action) string {
	switch action {
	case ActionAdded:
		return "+"
	case ActionRemoved:
		return "-"
	case ActionModified:
		return "~"
	case ActionMoved:
		return ">"
	default:
		return " "
	}
}

func formatDelta(d int64) string {
	if d < 0 {
		return "-" + humanize.Bytes(uint64(-d))
	}
	return "+" + humanize.Bytes(uint64(d))
}

// FormatJSON formats a layout diff as JSON.
func (ld *LayoutDiff) FormatJSON() ([]byte, error) {
	return json.MarshalIndent(ld, "", "  ")
}

// FormatStats returns just the statistics line.
func (ld *LayoutDiff) FormatStats() string {
	s := ld.Summary
	return fmt.Sprintf("%d bundles changed (%d+, %d~, %d-), %d assets (%d+, %d~, %d-, %d>), size %s",
		s.BundlesAdded+s.BundlesModified+s.BundlesRemoved,
		s.BundlesAdded, s.BundlesModified, s.BundlesRemoved,
		s.AssetsAdded+s.AssetsModified+s.AssetsRemoved+s.AssetsMoved,
		s.AssetsAdded, s.AssetsModified, s.AssetsRemoved, s.AssetsMoved,
		formatDelta(s.SizeDelta))
}
