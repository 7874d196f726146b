package ami

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Resolver looks up a bootable image id for a region. Specs that leave
// image_id empty are filled through a Resolver before dispatch.
type Resolver interface {
	Resolve(ctx context.Context, region string) (string, error)
}

const (
	DefaultRelease = "noble"
	DefaultArch    = "amd64"

	catalogHost = "https://cloud-images.ubuntu.com"
)

// CatalogClient resolves AMIs from Ubuntu's released cloud image
// catalog.
type CatalogClient struct {
	Release string
	Arch    string

	http *retryablehttp.Client
	host string

	mu    sync.Mutex
	cache map[string]string // region -> ami id
}

// NewCatalogClient returns a resolver for the default LTS release.
func NewCatalogClient() *CatalogClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = nil

	return &CatalogClient{
		Release: DefaultRelease,
		Arch:    DefaultArch,
		http:    client,
		host:    catalogHost,
		cache:   make(map[string]string),
	}
}

// Resolve returns the current released AMI for the region. Lookups are
// cached for the life of the client, so a batch costs one catalog
// fetch per region at most.
func (c *CatalogClient) Resolve(ctx context.Context, region string) (string, error) {
	c.mu.Lock()
	if id, ok := c.cache[region]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	url := fmt.Sprintf("%s/query/%s/server/released.current.txt", c.host, c.Release)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build catalog request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image catalog returned %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read image catalog: %w", err)
	}

	id, err := parseCatalog(string(body), region, c.Arch)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cache[region] = id
	c.mu.Unlock()
	return id, nil
}

// parseCatalog scans the tab-separated catalog for an EBS-backed HVM
// image in the given region and architecture. Catalog columns:
// suite, stream, label, serial, root store, arch, region, ami, virt.
func parseCatalog(catalog, region, arch string) (string, error) {
	for _, line := range strings.Split(catalog, "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) < 8 {
			continue
		}
		if !strings.HasPrefix(fields[4], "ebs") {
			continue
		}
		if fields[5] != arch || fields[6] != region {
			continue
		}
		if len(fields) > 8 && fields[8] != "hvm" {
			continue
		}
		return fields[7], nil
	}
	return "", fmt.Errorf("no image for region %s (%s) in catalog", region, arch)
}

// MockResolver returns canned image ids for tests.
type MockResolver struct {
	mu     sync.Mutex
	images map[string]string
}

func NewMockResolver() *MockResolver {
	return &MockResolver{images: make(map[string]string)}
}

// SetMockImage registers the id returned for a region.
func (m *MockResolver) SetMockImage(region, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[region] = id
}

func (m *MockResolver) Resolve(_ context.Context, region string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.images[region]; ok {
		return id, nil
	}
	return "", fmt.Errorf("no image for region %s", region)
}

var (
	resolverMu sync.RWMutex
	resolver   Resolver = NewCatalogClient()
)

// GetResolver returns the process-wide resolver.
func GetResolver() Resolver {
	resolverMu.RLock()
	defer resolverMu.RUnlock()
	return resolver
}

// SetResolver replaces the process-wide resolver. Tests use this to
// swap in a MockResolver.
func SetResolver(r Resolver) {
	resolverMu.Lock()
	defer resolverMu.Unlock()
	resolver = r
}
