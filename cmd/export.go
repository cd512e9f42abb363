package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/ceradon/sam-digest/internal/logger"
	"github.com/ceradon/sam-digest/internal/store"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump stored opportunities to stdout as a table or csv",
	Run: func(cmd *cobra.Command, _ []string) {
		export(cmd)
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().Int("since-days", 30, "export notices posted within this many days")
	exportCmd.Flags().String("format", "table", "output format: table or csv")
}

func export(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	pool, err := store.Connect(ctx, config.Store.DatabaseURL)
	if err != nil {
		logger.Fatal("connecting to the store", zap.Error(err))
	}
	defer pool.Close()

	days, _ := cmd.Flags().GetInt("since-days")
	since := time.Now().UTC().AddDate(0, 0, -days)

	notices, err := store.New(pool).QuerySince(ctx, since)
	if err != nil {
		logger.Fatal("querying notices", zap.Error(err))
	}

	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "table":
		renderTable(os.Stdout, notices)
	case "csv":
		if err := renderCSV(os.Stdout, notices); err != nil {
			logger.Fatal("writing csv", zap.Error(err))
		}
	default:
		logger.Fatal("unsupported format", zap.String("format", format))
	}
}

func renderTable(w io.Writer, notices []store.StoredNotice) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Notice ID", "Title", "Agency", "NAICS", "Posted", "Score", "Digested"})
	for _, n := range notices {
		t.AppendRow(table.Row{
			n.NoticeID, n.Title, n.Agency, n.NAICSCode,
			fmtDate(n.PostedDate), fmtScore(n.Score), n.Digested,
		})
	}
	t.Render()
}

func renderCSV(w io.Writer, notices []store.StoredNotice) error {
	cw := csv.NewWriter(w)
	header := []string{
		"notice_id", "solicitation_number", "title", "agency", "notice_type",
		"naics_code", "set_aside", "posted_date", "response_deadline", "score",
		"digested", "link",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, n := range notices {
		deadline := ""
		if n.ResponseDeadline != nil {
			deadline = n.ResponseDeadline.Format(time.RFC3339)
		}
		record := []string{
			n.NoticeID, n.SolicitationNumber, n.Title, n.Agency, n.NoticeType,
			n.NAICSCode, n.SetAside, fmtDate(n.PostedDate), deadline, fmtScore(n.Score),
			strconv.FormatBool(n.Digested), n.Link,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func fmtDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func fmtScore(score *float64) string {
	if score == nil {
		return ""
	}
	return fmt.Sprintf("%g", *score)
}
