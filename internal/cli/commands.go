package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/audit"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
)

func (a *app) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a JSON file of raw messages",
		Long: `Import reads a JSON file holding either an array of messages or an object
with a "mensajes" array, classifies every message and stores it. Duplicates
are counted and skipped.

Example:
  auditctl import export-2026-03-10.json
  AUDITORIA_DATABASE_URL=postgres://... auditctl import export.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			records, err := parseRecords(data)
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			svc, release, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer release()

			res := svc.Import(cmd.Context(), records)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "nuevos: %d\nduplicados: %d\nerrores: %d\n", res.New, res.Duplicates, res.Errors)
			for _, f := range res.Failures {
				fmt.Fprintf(out, "  %s: %s\n", f.ExternalID, f.Error)
			}
			return nil
		},
	}
}

// parseRecords accepts a bare array or an object with a "mensajes" array.
func parseRecords(data []byte) ([]audit.RawRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file")
	}
	var records []audit.RawRecord
	if data[0] == '[' {
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var wrapped struct {
		Records []audit.RawRecord `json:"mensajes"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Records, nil
}

func (a *app) classifyCmd() *cobra.Command {
	var (
		line   string
		sentAt string
		output string
	)
	cmd := &cobra.Command{
		Use:   "classify <text>",
		Short: "Classify one message without storing it",
		Long: `Classify runs the classification engine with the active rules over one
message text and prints the result.

Example:
  auditctl classify "EL TREN 3254 DESDE CONSTITUCION ... 03.1.A" --line Roca
  auditctl classify "..." --sent-at 2026-03-10T14:47:00-03:00 --output json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := classify.Input{Content: strings.Join(args, " "), Line: line}
			if sentAt != "" {
				t, err := time.Parse(time.RFC3339, sentAt)
				if err != nil {
					return fmt.Errorf("invalid --sent-at: %w", err)
				}
				in.SentAt = t
			}

			svc, release, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer release()

			res, err := svc.Preview(in)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), output, res)
		},
	}
	cmd.Flags().StringVar(&line, "line", "", "line the message belongs to (scopes line rules)")
	cmd.Flags().StringVar(&sentAt, "sent-at", "", "send time, RFC 3339 (empty = no timing checks)")
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format (yaml, json)")
	return cmd
}

func (a *app) reclassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reclassify",
		Short: "Re-score every non-terminal message with the active rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, release, err := a.service(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer release()

			counts, err := svc.Refresh(cmd.Context())
			if err != nil {
				return fmt.Errorf("reclassify: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mensajes_evaluados: %d\nmensajes_reclasificados: %d\nmensajes_resueltos: %d\n",
				counts.Evaluated, counts.Reclassified, counts.Resolved)
			return nil
		},
	}
}

func (a *app) rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the rule set",
	}
	var output string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the active rules in application order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, release, err := a.service(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer release()

			active := svc.Rules()
			if output != "table" {
				return render(cmd.OutOrStdout(), output, active)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tALCANCE\tTIPO\tEFECTO\tOBJETIVO\tPATRON")
			for _, r := range active {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Scope, r.Kind, r.Action.Effect, r.Action.Target, r.Description)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVarP(&output, "output", "o", "table", "output format (table, yaml, json)")
	cmd.AddCommand(list)
	return cmd
}

// render writes v as indented JSON or as YAML keyed like the JSON API.
func render(w io.Writer, format string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	switch format {
	case "json":
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return err
		}
		buf.WriteByte('\n')
		_, err = w.Write(buf.Bytes())
		return err
	case "yaml":
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		out, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		_, err = w.Write(out)
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
