// Package cloudflare backs the health checker's zone lookups with the
// Cloudflare API.
package cloudflare

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudflare/cloudflare-go"
)

type Zones struct {
	api *cloudflare.API

	mu    sync.Mutex
	cache map[string]string // zone name -> zone id
}

func New(token string) (*Zones, error) {
	if token == "" {
		return nil, fmt.Errorf("cloudflare API token required")
	}
	api, err := cloudflare.NewWithAPIToken(token)
	if err != nil {
		return nil, fmt.Errorf("create cloudflare client: %w", err)
	}
	return &Zones{api: api, cache: make(map[string]string)}, nil
}

func (z *Zones) Nameservers(ctx context.Context, zone string) ([]string, error) {
	id, err := z.zoneID(zone)
	if err != nil {
		return nil, fmt.Errorf("zone id for %s: %w", zone, err)
	}

	details, err := z.api.ZoneDetails(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("zone details for %s: %w", zone, err)
	}
	return details.NameServers, nil
}

func (z *Zones) zoneID(zone string) (string, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if id, ok := z.cache[zone]; ok {
		return id, nil
	}
	id, err := z.api.ZoneIDByName(zone)
	if err != nil {
		return "", err
	}
	z.cache[zone] = id
	return id, nil
}
