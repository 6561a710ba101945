package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/s3uploader/internal/api"
	"github.com/JakeFAU/s3uploader/internal/scan"
)

func newScanCmd() *cobra.Command {
	var details bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Report what the next sync would upload",
		Long: `Walks the source tree with the current exclusion rules and prints the
number of files and bytes a sync would transfer. With --details every file
and directory is listed along with whether it was kept or excluded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			engine := appInstance.Engine()
			out := cmd.OutOrStdout()
			if !details {
				writeSummary(out, engine.Root(), true, engine.Scan())
				return nil
			}
			report := engine.Inspect()
			if !report.SourceExists {
				return fmt.Errorf("source folder %s does not exist", report.SourceFolder)
			}
			writeSummary(out, report.SourceFolder, report.SourceExists,
				scan.Stats{Bytes: report.TotalSize, Files: report.FileCount})
			writeEntries(out, report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&details, "details", false, "list every file and directory with its inclusion status")
	return cmd
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.SetAutoWrapText(false)
	return table
}

func writeSummary(w io.Writer, root string, exists bool, stats scan.Stats) {
	table := newTable(w, []string{"SOURCE", "EXISTS", "FILES", "SIZE"})
	table.Append([]string{
		root,
		strconv.FormatBool(exists),
		strconv.FormatInt(stats.Files, 10),
		api.FormatSize(stats.Bytes),
	})
	table.Render()
}

func writeEntries(w io.Writer, report scan.Report) {
	table := newTable(w, []string{"STATUS", "TYPE", "PATH", "SIZE"})
	for _, dir := range report.FoundDirs {
		table.Append([]string{"included", "dir", dir, ""})
	}
	for _, dir := range report.ExcludedDirs {
		table.Append([]string{"excluded", "dir", dir, ""})
	}
	for _, f := range report.FoundFiles {
		table.Append([]string{"included", "file", f.Path, api.FormatSize(f.Size)})
	}
	for _, f := range report.ExcludedFiles {
		table.Append([]string{"excluded", "file", f.Path, api.FormatSize(f.Size)})
	}
	table.Render()
}
