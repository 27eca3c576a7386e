// Package report は同期・昇格レポートをDiscordメッセージ向けの文字列に整形する。
// 整形は純粋関数であり、外部APIへの依存を持たない。
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/electrium-mobility/rolesync/internal/model"
)

// maxNamesShown はメンバー名を列挙する際の上限。超過分は件数のみ表示する。
const maxNamesShown = 10

// Format は同期レポートをDiscordメッセージ文字列に整形する。
func Format(r *model.SyncReport) string {
	var b strings.Builder

	if r.DryRun {
		b.WriteString("**Role sync (dry run)**\n")
	} else {
		b.WriteString("**Role sync complete**\n")
	}
	fmt.Fprintf(&b, "Mappings: %d | Added: %d | Removed: %d | Failed: %d\n",
		len(r.Mappings), r.TotalAdded(), r.TotalRemoved(), r.TotalFailed())

	for i := range r.Mappings {
		m := &r.Mappings[i]
		if m.Skipped() {
			fmt.Fprintf(&b, "- `%s` → `%s`: skipped (%s)\n", m.RoleName, m.GroupName, m.SkipReason)
			continue
		}
		if len(m.Added) == 0 && len(m.Removed) == 0 && len(m.Failed) == 0 && !m.Created {
			continue
		}
		fmt.Fprintf(&b, "- `%s` → `%s`:", m.RoleName, m.GroupName)
		if m.Created {
			if r.DryRun {
				b.WriteString(" would create group,")
			} else {
				b.WriteString(" created group,")
			}
		}
		fmt.Fprintf(&b, " +%d -%d", len(m.Added), len(m.Removed))
		if len(m.Failed) > 0 {
			fmt.Fprintf(&b, " (%d failed)", len(m.Failed))
		}
		b.WriteString("\n")
		writeNames(&b, "  added: ", m.Added)
		writeNames(&b, "  removed: ", m.Removed)
		writeNames(&b, "  failed: ", m.Failed)
	}

	fmt.Fprintf(&b, "Run `%s` finished in %s", r.RunID, r.Duration.Round(time.Millisecond))
	return b.String()
}

// FormatPromotion は昇格レポートをDiscordメッセージ文字列に整形する。
func FormatPromotion(r *model.PromotionReport) string {
	var b strings.Builder

	b.WriteString("**Status promotion complete**\n")
	fmt.Fprintf(&b, "Transitions: %d | Errors: %d\n", len(r.Results), r.CountByError())

	for _, t := range r.Results {
		to := string(t.To)
		if t.To == model.StatusNone {
			to = "none"
		}
		fmt.Fprintf(&b, "- %s: %s → %s", t.Username, t.From, to)
		if t.Archived {
			b.WriteString(" (archived)")
		}
		if t.Err != "" {
			fmt.Fprintf(&b, " ⚠ %s", t.Err)
		}
		b.WriteString("\n")
	}
	if len(r.Results) == 0 {
		b.WriteString("No members required a transition.\n")
	}
	return b.String()
}

// writeNames はメンバー名の一覧を1行で書き出す。上限を超えた分は件数表示に丸める。
func writeNames(b *strings.Builder, prefix string, names []string) {
	if len(names) == 0 {
		return
	}
	b.WriteString(prefix)
	shown := names
	if len(shown) > maxNamesShown {
		shown = shown[:maxNamesShown]
	}
	b.WriteString(strings.Join(shown, ", "))
	if len(names) > maxNamesShown {
		fmt.Fprintf(b, " and %d more", len(names)-maxNamesShown)
	}
	b.WriteString("\n")
}
