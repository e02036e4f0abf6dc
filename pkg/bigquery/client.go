package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/orderdesk/pkg/config"
	"github.com/angelmondragon/orderdesk/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// TableSpec describes a table the service writes to.
type TableSpec struct {
	Name           string
	Schema         bigquery.Schema
	PartitionField string
	Clustering     []string
}

// Client streams rows into the tables of one dataset.
type Client struct {
	bq      *bigquery.Client
	dataset *bigquery.Dataset
	logg    *logger.Logger
}

// NewClient connects and fails unless the dataset already exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}

	bq, err := bigquery.NewClient(ctx, projectID, credentials(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	c := &Client{bq: bq, dataset: bq.Dataset(datasetID), logg: logg}
	if err := c.Ping(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}
	return c, nil
}

func credentials(gcp config.GCPConfig) []option.ClientOption {
	if strings.TrimSpace(gcp.CredentialsJSON) != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	}
	if strings.TrimSpace(gcp.ApplicationCredentials) != "" {
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

func (c *Client) ready() error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	return nil
}

// Ping reads the dataset metadata.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}
	return nil
}

// EnsureTable creates the table from spec when it is missing. For an existing
// table it only appends the spec.Schema columns it lacks; nothing is dropped or retyped.
func (c *Client) EnsureTable(ctx context.Context, spec TableSpec) error {
	if err := c.ready(); err != nil {
		return err
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return errTableNameRequired
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	ref := c.dataset.Table(name)
	meta, err := ref.Metadata(ctx)
	switch {
	case err == nil:
		return c.addColumns(ctx, ref, meta, spec.Schema)
	case !hasStatus(err, http.StatusNotFound):
		return fmt.Errorf("checking table %q: %w", name, err)
	}

	create := &bigquery.TableMetadata{Schema: spec.Schema}
	if spec.PartitionField != "" {
		create.TimePartitioning = &bigquery.TimePartitioning{Type: bigquery.DayPartitioningType, Field: spec.PartitionField}
	}
	if len(spec.Clustering) > 0 {
		create.Clustering = &bigquery.Clustering{Fields: spec.Clustering}
	}
	if err := ref.Create(ctx, create); err != nil && !hasStatus(err, http.StatusConflict) {
		return fmt.Errorf("creating table %q: %w", name, err)
	}
	if c.logg != nil {
		c.logg.Info(c.logg.WithField(ctx, "table", name), "bigquery table created")
	}
	return nil
}

func (c *Client) addColumns(ctx context.Context, ref *bigquery.Table, meta *bigquery.TableMetadata, want bigquery.Schema) error {
	missing := missingColumns(meta.Schema, want)
	if len(missing) == 0 {
		return nil
	}
	update := bigquery.TableMetadataToUpdate{Schema: append(meta.Schema, missing...)}
	if _, err := ref.Update(ctx, update, meta.ETag); err != nil {
		return fmt.Errorf("adding columns to %q: %w", ref.TableID, err)
	}
	if c.logg != nil {
		names := make([]string, 0, len(missing))
		for _, f := range missing {
			names = append(names, f.Name)
		}
		c.logg.Info(c.logg.WithFields(ctx, map[string]any{"table": ref.TableID, "columns": names}), "bigquery columns added")
	}
	return nil
}

// missingColumns returns top-level fields of want absent from have. BigQuery
// only accepts new columns as NULLABLE, so Required is cleared.
func missingColumns(have, want bigquery.Schema) bigquery.Schema {
	present := make(map[string]struct{}, len(have))
	for _, f := range have {
		present[strings.ToLower(f.Name)] = struct{}{}
	}
	var out bigquery.Schema
	for _, f := range want {
		if _, ok := present[strings.ToLower(f.Name)]; ok {
			continue
		}
		added := *f
		added.Required = false
		out = append(out, &added)
	}
	return out
}

// InsertRows streams rows into table. Rows may be ValueSavers carrying insert
// ids for best-effort dedup.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if err := c.ready(); err != nil {
		return err
	}
	name := strings.TrimSpace(table)
	if name == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}
	return c.dataset.Table(name).Inserter().Put(ctx, rows)
}

func (c *Client) Close() error {
	if c == nil || c.bq == nil {
		return nil
	}
	return c.bq.Close()
}

func hasStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
