package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/futurepaul/dialog-final-v2/internal/ui"
)

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List tags with note counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		counts := a.bridge.GetTagCounts()
		if len(counts) == 0 {
			fmt.Println(ui.RenderMuted("no tags"))
			return nil
		}

		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			unread := a.bridge.GetUnreadCount(name)
			line := fmt.Sprintf("%s %s", ui.RenderTag(name), ui.RenderMuted(fmt.Sprintf("(%d)", counts[name])))
			if unread > 0 {
				line += " " + ui.RenderAccent(fmt.Sprintf("%d unread", unread))
			}
			fmt.Println(line)
		}
		return nil
	},
}
