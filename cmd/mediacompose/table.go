package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/c360/mediacompose/config"
)

func renderOptionReference(options []config.OptionInfo) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Option", "Type", "Default", "Live", "Description"})
	for _, o := range options {
		live := ""
		if o.Updatable {
			live = "yes"
		}
		tw.AppendRow(table.Row{o.Name, o.Type, o.Default, live, o.Description})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 5, WidthMax: 60},
	})
	return tw.Render()
}
