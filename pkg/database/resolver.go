// Package database provides ASN-to-organization resolution with multiple
// backend options and PostgreSQL event persistence.
package database

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// Unknown is the organization of every ASN missing from the mapping.
	Unknown = "UNKNOWN"

	refreshInterval = 15 * time.Minute // Refresh ASN mapping every 15 minutes
)

// OrgResolver provides ASN-to-organization lookups.
type OrgResolver interface {
	// Lookup returns the organization name for an ASN, or Unknown.
	Lookup(asn uint32) string
	// Count returns the number of ASNs in the mapping.
	Count() int
	// Start begins any background refresh operations.
	Start()
	// Stop stops any background operations.
	Stop()
}

// NullResolver resolves every ASN to Unknown.
// Use this when no organization data is available.
type NullResolver struct{}

// NewNullResolver creates a new null resolver.
func NewNullResolver() *NullResolver {
	return &NullResolver{}
}

func (r *NullResolver) Lookup(uint32) string { return Unknown }
func (r *NullResolver) Count() int           { return 0 }
func (r *NullResolver) Start()               {}
func (r *NullResolver) Stop()                {}

// StaticResolver serves a fixed in-memory mapping.
type StaticResolver map[uint32]string

func (r StaticResolver) Lookup(asn uint32) string {
	if org, ok := r[asn]; ok && org != "" {
		return org
	}
	return Unknown
}

func (r StaticResolver) Count() int { return len(r) }
func (r StaticResolver) Start()     {}
func (r StaticResolver) Stop()      {}

// FileResolver loads ASN-to-organization mappings from a line-delimited JSON
// file in the CAIDA as-org2info layout.
//
// ASN lines carry "asn" and "name" and may reference an "organizationId";
// organization lines carry "organizationId" and "name". When an ASN's
// organization is present in the file its name wins over the AS name.
type FileResolver struct {
	filePath string
	mapping  map[uint32]string
	mu       sync.RWMutex
	logger   *slog.Logger
}

type orgRecord struct {
	ASN            json.RawMessage `json:"asn"` // Can be string or number
	Name           *string         `json:"name"`
	OrganizationID string          `json:"organizationId"`
}

// NewFileResolver creates a resolver that loads mappings from a JSONL file.
func NewFileResolver(filePath string, logger *slog.Logger) (*FileResolver, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &FileResolver{
		filePath: filePath,
		mapping:  make(map[uint32]string),
		logger:   logger,
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileResolver) load() error {
	file, err := os.Open(r.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	type asnEntry struct {
		name  string
		orgID string
	}
	asns := make(map[uint32]asnEntry)
	orgs := make(map[string]string)
	skipped := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var rec orgRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			skipped++
			continue
		}
		if rec.Name == nil {
			skipped++
			continue
		}
		asn, ok := parseASN(rec.ASN)
		if !ok {
			// Organization line, or an ASN line without an asn field.
			if rec.OrganizationID != "" && len(rec.ASN) == 0 {
				orgs[rec.OrganizationID] = *rec.Name
			} else {
				skipped++
			}
			continue
		}
		asns[asn] = asnEntry{name: *rec.Name, orgID: rec.OrganizationID}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	for asn, e := range asns {
		if org, ok := orgs[e.orgID]; ok && org != "" {
			r.mapping[asn] = org
			continue
		}
		r.mapping[asn] = e.name
	}

	r.logger.Info("loaded ASN organization mappings",
		"path", r.filePath, "asns", len(r.mapping), "organizations", len(orgs), "skipped", skipped)
	return nil
}

// parseASN parses an ASN that can be either a string or number.
func parseASN(data json.RawMessage) (uint32, bool) {
	if len(data) == 0 || string(data) == "null" {
		return 0, false
	}

	var num uint32
	if err := json.Unmarshal(data, &num); err == nil {
		return num, true
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		val, err := strconv.ParseUint(strings.TrimPrefix(strings.ToUpper(str), "AS"), 10, 32)
		if err == nil {
			return uint32(val), true
		}
	}
	return 0, false
}

func (r *FileResolver) Lookup(asn uint32) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if org, ok := r.mapping[asn]; ok && org != "" {
		return org
	}
	return Unknown
}

func (r *FileResolver) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mapping)
}

func (r *FileResolver) Start() {}
func (r *FileResolver) Stop()  {}

// DatabaseResolver loads ASN-to-organization mappings from a database table.
// Uses a simple schema: SELECT asn, org_name FROM asn_orgs
type DatabaseResolver struct {
	db        *sql.DB
	tableName string
	mapping   map[uint32]string
	mu        sync.RWMutex
	done      chan struct{}
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewDatabaseResolver creates a resolver that loads mappings from a database.
// tableName defaults to "asn_orgs" if empty.
func NewDatabaseResolver(db *sql.DB, tableName string, logger *slog.Logger) *DatabaseResolver {
	if tableName == "" {
		tableName = "asn_orgs"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DatabaseResolver{
		db:        db,
		tableName: tableName,
		mapping:   make(map[uint32]string),
		done:      make(chan struct{}),
		logger:    logger,
	}
}

// Start loads the mapping and begins periodic refresh.
func (r *DatabaseResolver) Start() {
	r.refresh()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.refresh()
			case <-r.done:
				return
			}
		}
	}()
}

// Stop stops the resolver.
func (r *DatabaseResolver) Stop() {
	close(r.done)
	r.wg.Wait()
}

// Lookup returns the organization for an ASN, or Unknown.
func (r *DatabaseResolver) Lookup(asn uint32) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if org, ok := r.mapping[asn]; ok {
		return org
	}
	return Unknown
}

// Count returns the number of ASNs in the mapping.
func (r *DatabaseResolver) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mapping)
}

// refresh loads the ASN-to-organization mapping from the database.
func (r *DatabaseResolver) refresh() {
	start := time.Now()

	query := "SELECT asn, org_name FROM " + r.tableName + " WHERE org_name IS NOT NULL AND org_name != ''"
	rows, err := r.db.Query(query)
	if err != nil {
		r.logger.Error("failed to query ASN organizations", "table", r.tableName, "error", err)
		return
	}
	defer rows.Close()

	newMapping := make(map[uint32]string)
	for rows.Next() {
		var asn int64
		var org string
		if err := rows.Scan(&asn, &org); err != nil {
			continue
		}
		if asn < 0 || asn > int64(^uint32(0)) {
			continue
		}
		newMapping[uint32(asn)] = org
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("ASN organization row iteration failed", "error", err)
		return
	}

	r.mu.Lock()
	r.mapping = newMapping
	r.mu.Unlock()

	r.logger.Info("loaded ASN organization mappings", "table", r.tableName,
		"asns", len(newMapping), "elapsed", time.Since(start))
}
