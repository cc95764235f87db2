// Command raceprobe hammers one merchant with concurrent credit operations
// against a running chargestack instance and verifies that no update was lost:
// after N workers each apply M credits of the same amount, the merchant's
// credit must equal workers*ops*amount and the ledger must reconcile.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		baseURL = flag.String("base-url", "http://localhost:8080/api/v1", "chargestack API base URL")
		workers = flag.Int("workers", 5, "number of concurrent workers")
		ops     = flag.Int("ops", 100, "credit operations per worker")
		amount  = flag.Int64("amount", 1, "credit amount per operation")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client := &http.Client{Timeout: 30 * time.Second}

	merchantID, err := createMerchant(ctx, client, *baseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create merchant: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("created merchant %d, running %d workers x %d credits of %d\n",
		merchantID, *workers, *ops, *amount)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *workers; i++ {
		g.Go(func() error {
			for j := 0; j < *ops; j++ {
				if err := addCredit(gctx, client, *baseURL, merchantID, *amount); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "probe failed: %v\n", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)

	credit, err := getCredit(ctx, client, *baseURL, merchantID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "get credit: %v\n", err)
		os.Exit(1)
	}

	expected := int64(*workers) * int64(*ops) * *amount
	fmt.Printf("done in %s: credit=%d expected=%d\n", elapsed, credit, expected)
	if credit != expected {
		fmt.Fprintln(os.Stderr, "LOST UPDATES DETECTED")
		os.Exit(1)
	}

	consistent, err := reconcile(ctx, client, *baseURL, merchantID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconcile: %v\n", err)
		os.Exit(1)
	}
	if !consistent {
		fmt.Fprintln(os.Stderr, "LEDGER DRIFT DETECTED")
		os.Exit(1)
	}
	fmt.Println("no lost updates, ledger reconciles")
}

func createMerchant(ctx context.Context, client *http.Client, baseURL string) (int64, error) {
	var out struct {
		ID int64 `json:"id"`
	}
	err := post(ctx, client, baseURL+"/merchants", map[string]any{"initial_credit": 0}, &out)
	return out.ID, err
}

func addCredit(ctx context.Context, client *http.Client, baseURL string, id, amount int64) error {
	url := fmt.Sprintf("%s/merchants/%d/add-credit", baseURL, id)
	return post(ctx, client, url, map[string]any{"credit": amount}, nil)
}

func getCredit(ctx context.Context, client *http.Client, baseURL string, id int64) (int64, error) {
	var out struct {
		Credit int64 `json:"credit"`
	}
	url := fmt.Sprintf("%s/merchants/%d/credit", baseURL, id)
	err := get(ctx, client, url, &out)
	return out.Credit, err
}

func reconcile(ctx context.Context, client *http.Client, baseURL string, id int64) (bool, error) {
	var out struct {
		Consistent bool `json:"consistent"`
	}
	url := fmt.Sprintf("%s/merchants/%d/reconciliation", baseURL, id)
	err := get(ctx, client, url, &out)
	return out.Consistent, err
}

func post(ctx context.Context, client *http.Client, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(client, req, out)
}

func get(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return do(client, req, out)
}

func do(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
