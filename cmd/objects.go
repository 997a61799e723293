package cmd

import (
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var objectsCmd = &cobra.Command{
	Use:   "objects",
	Short: "Inspect registered object definitions",
}

var objectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered objects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := apiClient().ListObjects(cmd.Context())
		if err != nil {
			return err
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(cmd.OutOrStdout())
		tw.SetStyle(table.StyleRounded)
		tw.AppendHeader(table.Row{"NAME", "PACKAGE", "LABEL", "CUSTOMIZABLE"})
		for _, entry := range entries {
			label := ""
			if l, ok := entry.Content["label"].(string); ok {
				label = l
			}
			tw.AppendRow(table.Row{entry.ID, entry.Package, label, entry.Customizable})
		}
		tw.Render()
		return nil
	},
}

var objectsGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show one object definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entry, err := apiClient().GetObject(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(cmd.OutOrStdout())
		tw.SetStyle(table.StyleRounded)
		tw.AppendRow(table.Row{"Name", entry.ID})
		tw.AppendRow(table.Row{"Package", entry.Package})
		tw.AppendRow(table.Row{"Customizable", entry.Customizable})
		for _, key := range sortedKeys(entry.Content) {
			tw.AppendRow(table.Row{key, fmt.Sprintf("%v", entry.Content[key])})
		}
		tw.Render()
		return nil
	},
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	objectsCmd.AddCommand(objectsListCmd)
	objectsCmd.AddCommand(objectsGetCmd)
	rootCmd.AddCommand(objectsCmd)
}
