package cmd

import (
	"context"
	"io"
	"iter"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/teemow/sitekit/internal/app"
	"github.com/teemow/sitekit/internal/modules"
)

// moduleLister is the part of the registry the modules command reads.
type moduleLister interface {
	List(ctx context.Context, filter modules.Filter) iter.Seq2[modules.View, error]
}

func newModulesCmd(version string) *cobra.Command {
	var (
		owner      string
		activeOnly bool
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "modules",
		Short: "List modules and their activation state",
		Long: `List the module catalog together with the activation state kept in the
configured storage. With --owner the table also shows whether that site
user has granted every scope a module needs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(debug)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, version)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.WithoutCancel(cmd.Context())) }()

			return renderModules(cmd.Context(), cmd.OutOrStdout(), a.Modules, modules.Filter{
				ActiveOnly: activeOnly,
				Owner:      owner,
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Site user whose granted scopes are checked")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only list active modules")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

func renderModules(ctx context.Context, out io.Writer, lister moduleLister, filter modules.Filter) error {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)

	header := table.Row{"Slug", "Name", "Active", "Depends On", "Scopes"}
	if filter.Owner != "" {
		header = append(header, "Connected")
	}
	t.AppendHeader(header)

	for v, err := range lister.List(ctx, filter) {
		if err != nil {
			return err
		}
		name := v.Name
		if v.Internal {
			name += text.FgHiBlack.Sprint(" (internal)")
		}
		row := table.Row{
			v.Slug,
			name,
			yesNo(v.Active),
			dash(strings.Join(v.Dependencies, ", ")),
			dash(strings.Join(v.RequiredScopes, "\n")),
		}
		if filter.Owner != "" {
			row = append(row, yesNo(v.Connected))
		}
		t.AppendRow(row)
	}

	t.Render()
	return nil
}

func yesNo(b bool) string {
	if b {
		return text.FgGreen.Sprint("yes")
	}
	return text.FgYellow.Sprint("no")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
