// Command backfill writes a tenantId field across existing documents in
// top-level collections (e.g. products, operations). Dry-run by default;
// pass -apply to write. By default only documents missing a tenantId are
// touched; -force rewrites all of them.
//
// Usage:
//
//	backfill -project <id> -tenant default -collections products,operations [-apply] [-force]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/imanagement/billingkit/firestore"
	"github.com/imanagement/billingkit/gauth"
	memorystore "github.com/imanagement/billingkit/storage/memory"
)

func main() {
	var (
		project     = flag.String("project", "", "Firebase project ID")
		tenant      = flag.String("tenant", "", "tenantId value to inject")
		collections = flag.String("collections", "", "comma-separated collections to process")
		apply       = flag.Bool("apply", false, "perform writes (default is dry-run)")
		force       = flag.Bool("force", false, "rewrite even when tenantId already exists")
		batch       = flag.Int("batch", 450, "page size for listing")
	)
	flag.Parse()

	_ = godotenv.Load()
	logger := logrus.New()

	colls := splitCSV(*collections)
	if *project == "" || *tenant == "" || len(colls) == 0 {
		fmt.Fprintln(os.Stderr, "missing arguments: -project <id> -tenant <value> -collections a,b [-apply]")
		os.Exit(1)
	}

	tokens, err := gauth.New(gauth.Config{
		ClientEmail:   os.Getenv("SERVICE_ACCOUNT_EMAIL"),
		PrivateKeyPEM: os.Getenv("SERVICE_ACCOUNT_PRIVATE_KEY"),
	}, memorystore.NewTokenCache(), gauth.WithLogger(logger))
	if err != nil {
		logger.WithError(err).Fatal("credential manager")
	}

	store, err := firestore.NewClient(firestore.ClientConfig{
		ProjectID: *project,
		Logger:    logger,
	}, tokens)
	if err != nil {
		logger.WithError(err).Fatal("firestore client")
	}

	mode := "DRY-RUN"
	if *apply {
		mode = "APPLY"
	}
	logger.WithFields(logrus.Fields{
		"project":     *project,
		"tenant":      *tenant,
		"collections": colls,
		"mode":        mode,
		"force":       *force,
	}).Info("starting backfill")

	ctx := context.Background()
	for _, coll := range colls {
		if err := backfillCollection(ctx, store, logger, coll, *tenant, *apply, *force, *batch); err != nil {
			logger.WithError(err).WithField("collection", coll).Fatal("backfill failed")
		}
	}
	logger.Info("backfill finished")
}

func backfillCollection(ctx context.Context, store *firestore.Client, logger *logrus.Logger, collection, tenant string, apply, force bool, pageSize int) error {
	log := logger.WithField("collection", collection)

	var total, selected, written, previewed int
	pageToken := ""
	for {
		page, err := store.ListDocuments(ctx, collection, pageSize, pageToken)
		if err != nil {
			return err
		}
		for i := range page.Documents {
			doc := &page.Documents[i]
			total++
			existing, _ := doc.StringField("tenantId")
			if existing != "" && !force {
				continue
			}
			selected++

			if !apply {
				if previewed < 10 {
					log.WithFields(logrus.Fields{
						"id":     doc.ID(),
						"before": existing,
						"after":  tenant,
					}).Info("would update")
					previewed++
				}
				continue
			}
			err := store.UpsertDocument(ctx, collection, doc.ID(), map[string]any{"tenantId": tenant})
			if err != nil {
				return err
			}
			written++
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	log.WithFields(logrus.Fields{
		"scanned":  total,
		"selected": selected,
		"written":  written,
	}).Info("collection done")
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
