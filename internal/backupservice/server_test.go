package backupservice

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/infra-structure/RAMCloud/pkg/backup"
	"github.com/infra-structure/RAMCloud/pkg/types"
)

// TestServerRoundTripsThroughRealHTTP drives a backup.Client against a
// live httptest.Server fronting this package's Store, the way
// remote_test.go exercises a store end to end over real sockets instead
// of calling Store's methods directly.
func TestServerRoundTripsThroughRealHTTP(t *testing.T) {
	srv := NewServer(NewStore())
	httpServer := httptest.NewServer(srv.Routes())
	defer httpServer.Close()

	client := backup.NewClient(httpServer.URL)
	ctx := context.Background()

	masterID := types.LogID(1)
	segmentID := types.SegmentID(10)

	if err := client.Open(ctx, masterID, segmentID); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := client.Write(ctx, masterID, segmentID, 0, []byte("hello ")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := client.Write(ctx, masterID, segmentID, 6, []byte("world")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := client.GetRecoveryData(ctx, masterID, segmentID)
	if err != nil {
		t.Fatalf("GetRecoveryData: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("got %q, want %q", data, "hello world")
	}

	if err := client.Close(ctx, masterID, segmentID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := client.Free(ctx, masterID, segmentID); err != nil {
		t.Fatalf("Free: %v", err)
	}

	if _, err := client.GetRecoveryData(ctx, masterID, segmentID); err == nil {
		t.Fatal("expected an error reading recovery data after Free")
	}
}

// TestServerRejectsWriteToUnopenedSegment checks the real HTTP path
// surfaces the same rejection pkg/backup's fake sessions simulate.
func TestServerRejectsWriteToUnopenedSegment(t *testing.T) {
	srv := NewServer(NewStore())
	httpServer := httptest.NewServer(srv.Routes())
	defer httpServer.Close()

	client := backup.NewClient(httpServer.URL)
	ctx := context.Background()

	err := client.Write(ctx, 1, 99, 0, []byte("x"))
	if err == nil {
		t.Fatal("expected a write to an unopened segment to fail")
	}
}
