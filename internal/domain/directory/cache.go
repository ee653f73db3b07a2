package directory

import (
	"context"
	"strconv"
	"strings"
)

// CacheRegion names one cached view of directory entities
type CacheRegion string

const (
	RegionIdentityByID   CacheRegion = "identity_by_id"
	RegionIdentityByName CacheRegion = "identity_by_name"
	RegionPermissions    CacheRegion = "permissions"
	RegionCapabilities   CacheRegion = "capabilities"
	RegionMail           CacheRegion = "mail"
)

// Regions lists every cache region. An entity change clears all of them.
var Regions = []CacheRegion{
	RegionIdentityByID,
	RegionIdentityByName,
	RegionPermissions,
	RegionCapabilities,
	RegionMail,
}

// CacheKey addresses one entity within a region
type CacheKey struct {
	TenantID int64
	Kind     Kind
	ID       int64
	Name     string
}

// IDKey builds an ID-addressed key
func IDKey(tenantID int64, kind Kind, id int64) CacheKey {
	return CacheKey{TenantID: tenantID, Kind: kind, ID: id}
}

// NameKey builds a name-addressed key
func NameKey(tenantID int64, kind Kind, name string) CacheKey {
	return CacheKey{TenantID: tenantID, Kind: kind, Name: name}
}

func (k CacheKey) String() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(k.TenantID, 10))
	b.WriteByte(':')
	b.WriteString(string(k.Kind))
	if k.Name != "" {
		b.WriteString(":name:")
		b.WriteString(k.Name)
	} else {
		b.WriteString(":id:")
		b.WriteString(strconv.FormatInt(k.ID, 10))
	}
	return b.String()
}

// EntityCache stores serialized entity views per region.
// Get reports a miss with ok=false; errors are reserved for backend faults.
type EntityCache interface {
	Get(ctx context.Context, region CacheRegion, key CacheKey) ([]byte, bool, error)
	Set(ctx context.Context, region CacheRegion, key CacheKey, value []byte) error
	Invalidate(ctx context.Context, region CacheRegion, keys ...CacheKey) error
}
