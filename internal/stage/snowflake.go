package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"

	"ragchat/internal/domain"
	"ragchat/internal/metrics"
)

// DefaultURLExpiry is how long presigned URLs stay valid.
const DefaultURLExpiry = 360 * time.Second

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*)*$`)

// Snowflake is a document catalog backed by a named stage, queried through
// the SQL API v2. Identifiers come from configuration and are validated;
// user-controlled values are always bound.
type Snowflake struct {
	endpoint  string
	token     string
	tokenType string
	warehouse string
	database  string
	schema    string
	stage     string
	table     string
	client    *http.Client
	urls      *cache.Cache
}

type SnowflakeConfig struct {
	AccountURL  string
	TokenEnv    string
	TokenType   string
	Warehouse   string
	Database    string
	Schema      string
	Stage       string
	ChunksTable string
	Timeout     time.Duration
}

func NewSnowflake(cfg SnowflakeConfig) (*Snowflake, error) {
	if cfg.AccountURL == "" {
		return nil, errors.New("stage: account url is required")
	}
	if cfg.Stage == "" {
		cfg.Stage = "data"
	}
	if cfg.ChunksTable == "" {
		cfg.ChunksTable = "financial_chunks_table"
	}
	for name, ident := range map[string]string{"stage": cfg.Stage, "chunks_table": cfg.ChunksTable} {
		if !identPattern.MatchString(ident) {
			return nil, fmt.Errorf("stage: invalid %s identifier %q", name, ident)
		}
	}
	var token string
	if cfg.TokenEnv != "" {
		token = os.Getenv(cfg.TokenEnv)
		if token == "" {
			return nil, fmt.Errorf("stage: missing token in env %s", cfg.TokenEnv)
		}
	}
	if cfg.TokenType == "" {
		cfg.TokenType = "PROGRAMMATIC_ACCESS_TOKEN"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Snowflake{
		endpoint:  strings.TrimRight(cfg.AccountURL, "/") + "/api/v2/statements",
		token:     token,
		tokenType: cfg.TokenType,
		warehouse: cfg.Warehouse,
		database:  cfg.Database,
		schema:    cfg.Schema,
		stage:     cfg.Stage,
		table:     cfg.ChunksTable,
		client:    &http.Client{Timeout: timeout},
		urls:      cache.New(DefaultURLExpiry, 10*time.Minute),
	}, nil
}

type binding struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type statementRequest struct {
	Statement string             `json:"statement"`
	Timeout   int                `json:"timeout,omitempty"`
	Warehouse string             `json:"warehouse,omitempty"`
	Database  string             `json:"database,omitempty"`
	Schema    string             `json:"schema,omitempty"`
	Bindings  map[string]binding `json:"bindings,omitempty"`
}

// List returns the files on the stage.
func (s *Snowflake) List(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.query(ctx, "LIST @"+s.stage)
	metrics.ObserveCatalog(err)
	if err != nil {
		return nil, err
	}
	// LIST columns: name, size, md5, last_modified
	docs := make([]domain.Document, 0, len(rows))
	for _, row := range rows {
		name := row.Get("0").String()
		if name == "" {
			continue
		}
		doc := domain.Document{Path: stripStagePrefix(name)}
		doc.Size, _ = strconv.ParseInt(row.Get("1").String(), 10, 64)
		if t, err := time.Parse(time.RFC1123, row.Get("3").String()); err == nil {
			doc.LastModified = t
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// PresignedURL resolves a time-limited download URL for path. Results are
// cached for a little less than their validity.
func (s *Snowflake) PresignedURL(ctx context.Context, path string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	key := path + "|" + expiry.String()
	if v, ok := s.urls.Get(key); ok {
		return v.(string), nil
	}
	secs := int(expiry / time.Second)
	rows, err := s.query(ctx, "SELECT GET_PRESIGNED_URL(@"+s.stage+", ?, ?)",
		binding{Type: "TEXT", Value: path},
		binding{Type: "FIXED", Value: strconv.Itoa(secs)},
	)
	metrics.ObserveCatalog(err)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 || rows[0].Get("0").String() == "" {
		return "", fmt.Errorf("stage: no url returned for %s", path)
	}
	u := rows[0].Get("0").String()
	s.urls.Set(key, u, expiry*9/10)
	return u, nil
}

// DistinctValues lists the distinct non-null values of a filterable column
// of the chunks table, sorted.
func (s *Snowflake) DistinctValues(ctx context.Context, column string) ([]string, error) {
	if _, ok := domain.FilterableFields[column]; !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrFilterField, column)
	}
	stmt := fmt.Sprintf("SELECT DISTINCT %[1]s FROM %[2]s WHERE %[1]s IS NOT NULL ORDER BY %[1]s", column, s.table)
	rows, err := s.query(ctx, stmt)
	metrics.ObserveCatalog(err)
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		values = append(values, row.Get("0").String())
	}
	return values, nil
}

// query executes one statement and returns its data rows.
func (s *Snowflake) query(ctx context.Context, stmt string, binds ...binding) ([]gjson.Result, error) {
	body := statementRequest{
		Statement: stmt,
		Timeout:   int(s.client.Timeout / time.Second),
		Warehouse: s.warehouse,
		Database:  s.database,
		Schema:    s.schema,
	}
	if len(binds) > 0 {
		body.Bindings = make(map[string]binding, len(binds))
		for i, b := range binds {
			body.Bindings[strconv.Itoa(i+1)] = b
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("stage: encode statement: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("stage: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
		req.Header.Set("X-Snowflake-Authorization-Token-Type", s.tokenType)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stage: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("stage: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(payload, "message").String()
		return nil, fmt.Errorf("stage: statement failed: %s %s", resp.Status, msg)
	}
	if !gjson.ValidBytes(payload) {
		return nil, errors.New("stage: response is not valid JSON")
	}
	rows := gjson.GetBytes(payload, "data")
	if !rows.IsArray() {
		return nil, errors.New("stage: response has no data")
	}
	return rows.Array(), nil
}

// stripStagePrefix turns "data/reports/q1.pdf" into "reports/q1.pdf".
func stripStagePrefix(name string) string {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}
