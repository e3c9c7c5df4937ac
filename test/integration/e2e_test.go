//go:build integration

package integration

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/23skdu/quarrel-kernels/internal/config"
	"github.com/23skdu/quarrel-kernels/internal/engine"
	"github.com/23skdu/quarrel-kernels/internal/gguf"
	"github.com/23skdu/quarrel-kernels/internal/metrics"
	"github.com/23skdu/quarrel-kernels/internal/monitoring"
	"github.com/23skdu/quarrel-kernels/internal/ops"
	"github.com/23skdu/quarrel-kernels/internal/tensor"
	"github.com/23skdu/quarrel-kernels/internal/tensorflight"
)

func randomTensor(t *testing.T, rng *rand.Rand, name string, dt tensor.DType, shape ...int) *tensor.Tensor {
	t.Helper()
	n := 1
	for _, d := range shape {
		n *= d
	}
	vals := make([]float32, n)
	for i := range vals {
		vals[i] = rng.Float32()*2 - 1
	}
	x, err := tensor.FromFloat32(name, dt, vals, shape...)
	if err != nil {
		t.Fatal(err)
	}
	return x
}

// TestE2E_AttentionThroughFlight uploads q, k and v to a tensor store, runs
// attention on the downloaded copies and checks the result against a local
// run on the originals.
func TestE2E_AttentionThroughFlight(t *testing.T) {
	srv := tensorflight.NewServer()
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	go srv.Serve()
	defer srv.Shutdown()

	client, err := tensorflight.Dial(srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, dt := range []tensor.DType{tensor.F32, tensor.F16, tensor.BF16} {
		t.Run(dt.String(), func(t *testing.T) {
			rng := rand.New(rand.NewSource(21))
			q := randomTensor(t, rng, "q", dt, 6, 4, 8)
			k := randomTensor(t, rng, "k", dt, 6, 2, 8)
			v := randomTensor(t, rng, "v", dt, 6, 2, 8)

			tickets, err := client.Put(ctx, q, k, v)
			if err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			var remote [3]*tensor.Tensor
			for i, tk := range tickets {
				if remote[i], err = client.Get(ctx, tk); err != nil {
					t.Fatalf("Get(%s) failed: %v", tk, err)
				}
			}

			scale := float32(1 / math.Sqrt(8))
			want, _ := tensor.New("out", dt, 6, 4, 8)
			got, _ := tensor.New("out", dt, 6, 4, 8)
			if err := ops.SelfAttention(want, q, k, v, scale); err != nil {
				t.Fatal(err)
			}
			if err := ops.SelfAttention(got, remote[0], remote[1], remote[2], scale); err != nil {
				t.Fatal(err)
			}
			w, g := want.Float32s(), got.Float32s()
			for i := range w {
				if w[i] != g[i] {
					t.Fatalf("index %d: remote %v, local %v", i, g[i], w[i])
				}
			}
		})
	}

	if srv.Len() != 9 {
		t.Errorf("expected 9 stored tensors, got %d", srv.Len())
	}
}

// TestE2E_GGUFExportForward saves a seeded block as GGUF, loads it back and
// checks that both produce the same greedy continuation.
func TestE2E_GGUFExportForward(t *testing.T) {
	m := config.Default().Model
	kernels := ops.NewContext(ops.Options{Threads: 2})
	src, err := engine.NewBlock(m, tensor.BF16, kernels)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "block.gguf")
	if err := gguf.WriteFile(path, gguf.Meta{Arch: "llama", Model: m}, src.Weights()...); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	f, err := gguf.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	loadedCfg, err := f.ModelConfig(config.ModelConfig{Seed: m.Seed})
	if err != nil {
		t.Fatal(err)
	}
	ws, err := f.BlockWeights(0)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := engine.LoadBlock(loadedCfg, ws, kernels)
	if err != nil {
		t.Fatal(err)
	}

	prompt := []int64{5, 17, 42, 8}
	a, err := src.Generate(prompt, 6)
	if err != nil {
		t.Fatal(err)
	}
	b, err := loaded.Generate(prompt, 6)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("continuations differ at %d: %v vs %v", i, a, b)
		}
	}
}

// TestE2E_HealthReportsKernelCalls runs a forward pass and expects the
// status endpoint to count the kernel calls it made.
func TestE2E_HealthReportsKernelCalls(t *testing.T) {
	before, _ := metrics.Totals()

	block, err := engine.NewBlock(config.Default().Model, tensor.F32, ops.NewContext(ops.Options{}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := block.Forward([]int64{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	hm := monitoring.NewHealthMonitor()
	addr, err := hm.Start("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer hm.Shutdown(context.Background())

	resp, err := http.Get("http://" + addr.String() + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var status monitoring.HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("bad status JSON: %v", err)
	}
	if status.Kernels.Calls <= before {
		t.Errorf("expected kernel calls to grow past %d, got %d", before, status.Kernels.Calls)
	}
}
