package ami

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

const catalogFixture = "" +
	"noble\tserver\trelease\t20250810\tinstance-store\tamd64\tus-east-1\tami-storebacked\thvm\n" +
	"noble\tserver\trelease\t20250810\tebs-gp3\tarm64\tus-east-1\tami-wrongarch\thvm\n" +
	"noble\tserver\trelease\t20250810\tebs-gp3\tamd64\tus-east-1\tami-0east1\thvm\n" +
	"noble\tserver\trelease\t20250810\tebs-gp3\tamd64\teu-west-1\tami-0west1\thvm\n" +
	"# trailing noise line without tabs\n"

func TestParseCatalog(t *testing.T) {
	tests := []struct {
		name    string
		region  string
		arch    string
		want    string
		wantErr bool
	}{
		{"us-east-1", "us-east-1", "amd64", "ami-0east1", false},
		{"eu-west-1", "eu-west-1", "amd64", "ami-0west1", false},
		{"unknown region", "ap-south-1", "amd64", "", true},
		{"arch mismatch", "eu-west-1", "arm64", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCatalog(catalogFixture, tt.region, tt.arch)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseCatalog(%s) = %s, want error", tt.region, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCatalog(%s): %v", tt.region, err)
			}
			if got != tt.want {
				t.Errorf("parseCatalog(%s) = %s, want %s", tt.region, got, tt.want)
			}
		})
	}
}

func TestCatalogClientResolveAndCache(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !strings.Contains(r.URL.Path, "/query/noble/server/") {
			t.Errorf("unexpected catalog path %s", r.URL.Path)
		}
		w.Write([]byte(catalogFixture))
	}))
	defer server.Close()

	client := NewCatalogClient()
	client.host = server.URL

	id, err := client.Resolve(context.Background(), "us-east-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != "ami-0east1" {
		t.Errorf("id = %s, want ami-0east1", id)
	}

	// Second lookup for the same region comes from the cache.
	if _, err := client.Resolve(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("Resolve (cached): %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("catalog fetched %d times, want 1", got)
	}
}

func TestCatalogClientBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewCatalogClient()
	client.host = server.URL

	if _, err := client.Resolve(context.Background(), "us-east-1"); err == nil {
		t.Error("expected error for non-200 catalog response")
	}
}

func TestMockResolver(t *testing.T) {
	mock := NewMockResolver()
	mock.SetMockImage("us-east-1", "ami-mocked")

	id, err := mock.Resolve(context.Background(), "us-east-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != "ami-mocked" {
		t.Errorf("id = %s, want ami-mocked", id)
	}

	if _, err := mock.Resolve(context.Background(), "eu-west-1"); err == nil {
		t.Error("expected error for a region without a mock image")
	}
}

func TestSetResolver(t *testing.T) {
	mock := NewMockResolver()
	mock.SetMockImage("us-east-1", "ami-swapped")

	original := GetResolver()
	SetResolver(mock)
	defer SetResolver(original)

	if GetResolver() != Resolver(mock) {
		t.Fatal("process-wide resolver was not swapped")
	}
	id, err := GetResolver().Resolve(context.Background(), "us-east-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != "ami-swapped" {
		t.Errorf("id = %s, want ami-swapped", id)
	}
}
