//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	domain "github.com/yomnaalset/bookstore/internal/domain"
	pconfig "github.com/yomnaalset/bookstore/internal/platform/config"
	pfirestore "github.com/yomnaalset/bookstore/internal/platform/firestore"
	"github.com/yomnaalset/bookstore/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestDiscountRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "discount-test", EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close() })

	repo, err := NewDiscountRepository(provider)
	if err != nil {
		t.Fatalf("new discount repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if _, err := client.Collection(invoiceDiscountCollection).Doc("SAVE10").Set(ctx, invoiceDiscountDocument{
		Code: "SAVE10", Value: "10", UsageLimit: 1, IsActive: true,
	}); err != nil {
		t.Fatalf("seed invoice discount: %v", err)
	}
	if _, err := client.Collection(itemDiscountCollection).Doc("BOOK5").Set(ctx, itemDiscountDocument{
		Code: "BOOK5", BookID: "book-1", BookPrice: "20.00", DiscountedPrice: "15.00", IsActive: true,
	}); err != nil {
		t.Fatalf("seed item discount: %v", err)
	}

	invoice, err := repo.FindDiscount(ctx, "save10")
	if err != nil {
		t.Fatalf("find invoice discount: %v", err)
	}
	if invoice.Kind != domain.DiscountKindInvoice || invoice.Invoice.Percentage.String() != "10" {
		t.Fatalf("unexpected invoice discount %+v", invoice)
	}

	item, err := repo.FindDiscount(ctx, "BOOK5")
	if err != nil {
		t.Fatalf("find item discount: %v", err)
	}
	if item.Kind != domain.DiscountKindItem || item.Item.DiscountedPrice != 1500 {
		t.Fatalf("unexpected item discount %+v", item)
	}

	_, err = repo.FindDiscount(ctx, "MISSING")
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found repository error, got %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, orderID := range []string{"ord_1", "ord_2"} {
		if err := repo.RecordRedemption(ctx, "save10", "cust-1", orderID, now); err != nil {
			t.Fatalf("record redemption: %v", err)
		}
	}
	if err := repo.RecordRedemption(ctx, "SAVE10", "cust-2", "ord_3", now); err != nil {
		t.Fatalf("record redemption: %v", err)
	}

	count, err := repo.CountRedemptions(ctx, "SAVE10", "cust-1")
	if err != nil {
		t.Fatalf("count redemptions: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 redemptions, got %d", count)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skipf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
