// Package bigquery wraps the BigQuery streaming API used by the analytics
// worker.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/bookswap-backend/pkg/config"
	"github.com/angelmondragon/bookswap-backend/pkg/gcp"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
)

const verifyTimeout = 10 * time.Second

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// Client streams rows into tables of a single dataset. Tables are
// provisioned by migrations outside this service; the client only checks
// that they exist.
type Client struct {
	bq      *bigquery.Client
	dataset *bigquery.Dataset
	tables  []string

	mu        sync.Mutex
	inserters map[string]*bigquery.Inserter
}

type target struct {
	project string
	dataset string
	tables  []string
}

func resolveTarget(gcpCfg config.GCPConfig, cfg config.BigQueryConfig) (target, error) {
	t := target{
		project: strings.TrimSpace(gcpCfg.ProjectID),
		dataset: strings.TrimSpace(cfg.Dataset),
	}
	if t.project == "" {
		return target{}, errProjectIDRequired
	}
	if t.dataset == "" {
		return target{}, errDatasetRequired
	}
	table := strings.TrimSpace(cfg.OrderEventsTable)
	if table == "" {
		return target{}, errTableNameRequired
	}
	t.tables = []string{table}
	return t, nil
}

// NewClient connects to BigQuery and fails fast when the dataset or the
// order events table is missing.
func NewClient(ctx context.Context, gcpCfg config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	t, err := resolveTarget(gcpCfg, cfg)
	if err != nil {
		return nil, err
	}

	bq, err := bigquery.NewClient(ctx, t.project, gcp.ClientOptions(gcpCfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}

	c := &Client{
		bq:        bq,
		dataset:   bq.Dataset(t.dataset),
		tables:    t.tables,
		inserters: make(map[string]*bigquery.Inserter, len(t.tables)),
	}
	if err := c.Ping(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{"dataset": t.dataset, "tables": t.tables})
		logg.Info(ctx, "bigquery client initialized")
	}
	return c, nil
}

// Ping reads dataset and table metadata.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		return describeMissing("dataset", c.dataset.DatasetID, err)
	}
	for _, name := range c.tables {
		if _, err := c.dataset.Table(name).Metadata(ctx); err != nil {
			return describeMissing("table", name, err)
		}
	}
	return nil
}

// InsertRows streams rows into table. Values must be structs or pointers to
// structs carrying bigquery tags, or ValueSavers.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.bq == nil {
		return errClientNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}
	return c.inserter(table).Put(ctx, rows)
}

func (c *Client) inserter(table string) *bigquery.Inserter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ins, ok := c.inserters[table]; ok {
		return ins
	}
	ins := c.dataset.Table(table).Inserter()
	ins.IgnoreUnknownValues = true
	c.inserters[table] = ins
	return ins
}

// Close releases the underlying client.
func (c *Client) Close() error {
	if c == nil || c.bq == nil {
		return nil
	}
	return c.bq.Close()
}

func describeMissing(kind, name string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}
