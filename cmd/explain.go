package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/ceradon/sam-digest/internal/logger"
	"github.com/ceradon/sam-digest/internal/store"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var explainCmd = &cobra.Command{
	Use:   "explain <notice-id>",
	Short: "Show the stored score and matched-rule trail for one notice",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		explain(args[0])
	},
}

func init() {
	rootCmd.AddCommand(explainCmd)
}

func explain(noticeID string) {
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

	stored, err := store.New(pool).GetByNoticeID(ctx, noticeID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Fatal("notice has never been ingested", zap.String("notice_id", noticeID))
	}
	if err != nil {
		logger.Fatal("fetching notice", zap.Error(err))
	}

	fmt.Printf("%s  %s\n", stored.NoticeID, stored.Title)
	fmt.Printf("Agency:   %s\n", stored.Agency)
	fmt.Printf("NAICS:    %s\n", stored.NAICSCode)
	fmt.Printf("Posted:   %s\n", fmtDate(stored.PostedDate))
	fmt.Printf("Digested: %t\n", stored.Digested)

	if stored.Score == nil {
		fmt.Println("Score:    not scored (excluded by hard filters or ingested before scoring)")
		return
	}
	fmt.Printf("Score:    %s\n", fmtScore(stored.Score))

	if len(stored.Matched) == 0 {
		fmt.Println("No rules matched.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Matched Rule", "Weight"})
	for _, rule := range stored.Matched {
		t.AppendRow(table.Row{rule.Name, rule.Weight})
	}
	t.Render()
}
