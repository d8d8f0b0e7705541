package pipeline

import (
	"os"
	"runtime"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/m0w0kuma/rofl/pkg/emulator"
	"github.com/m0w0kuma/rofl/pkg/movement"
	"github.com/m0w0kuma/rofl/pkg/patch"
	"github.com/m0w0kuma/rofl/pkg/replay"
)

// batchSize is the number of payloads handed to one emulator VM per
// batch (spec.md §4.7 "Batching parallelism").
const batchSize = 100

// Orchestrator decodes whole replay files by harvesting blocks, fanning
// their payloads out across a pool of emulator workers, and correlating
// the results (spec.md §4.7).
type Orchestrator struct {
	Workers int

	// WardFailures counts ward-spawn decodes skipped after a VM fault,
	// in place of the original decoder's panic (spec.md §7, §9).
	WardFailures int64
}

// NewOrchestrator returns an Orchestrator with a worker count derived
// from the host, unless workers is positive.
func NewOrchestrator(workers int) *Orchestrator {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Orchestrator{Workers: workers}
}

// Run decodes one replay file against the given patch image.
func (o *Orchestrator) Run(replayPath string, img *patch.Image) (*GameReport, error) {
	raw, err := os.ReadFile(replayPath)
	if err != nil {
		return nil, err
	}

	md, err := replay.ParseMetadata(raw)
	if err != nil {
		return nil, err
	}

	wardBlocks, err := replay.GetBlocksWithID(raw, img.WardSpawn.PacketID)
	if err != nil {
		return nil, err
	}
	movBlocks, err := replay.GetBlocksWithID(raw, img.Mov.PacketID)
	if err != nil {
		return nil, err
	}

	var wardRecords []emulator.WardSpawnRecord
	var movRecords []movement.PathRecord

	g := new(errgroup.Group)
	g.Go(func() error {
		recs, err := o.decodeWardSpawns(img, wardBlocks)
		if err != nil {
			return err
		}
		wardRecords = recs
		return nil
	})
	g.Go(func() error {
		recs, err := o.decodeMovements(img, movBlocks)
		if err != nil {
			return err
		}
		movRecords = recs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(wardRecords, func(i, j int) bool { return wardRecords[i].Timestamp < wardRecords[j].Timestamp })

	wards := correlateWards(wardRecords, md.Players, img.PlayerIDStart)
	snapshots := buildSnapshots(movRecords, md.Players, img.PlayerIDStart)

	return &GameReport{
		Metadata:     newMetadataOut(md),
		Wards:        wards,
		PlayersState: snapshots,
	}, nil
}

func (o *Orchestrator) workerCount() int {
	if o.Workers <= 0 {
		return 1
	}
	return o.Workers
}

// decodeWardSpawns fans payloads out across o.Workers emulator instances,
// batchSize payloads at a time. A decode failure is skipped and counted
// rather than propagated (spec.md §7, §9 resolves the source's panic
// behavior this way).
func (o *Orchestrator) decodeWardSpawns(img *patch.Image, items []replay.TimestampedPayload) ([]emulator.WardSpawnRecord, error) {
	batches := batchPayloads(items, batchSize)
	results := make([][]emulator.WardSpawnRecord, len(batches))

	work := make(chan int, len(batches))
	for i := range batches {
		work <- i
	}
	close(work)

	g := new(errgroup.Group)
	for w := 0; w < o.workerCount(); w++ {
		g.Go(func() error {
			if len(batches) == 0 {
				return nil
			}
			vm, err := emulator.NewVM(img)
			if err != nil {
				return err
			}
			defer vm.Close()

			for idx := range work {
				batch := batches[idx]
				recs := make([]emulator.WardSpawnRecord, 0, len(batch))
				for _, item := range batch {
					rec, err := vm.DecodeWardSpawn(item.Timestamp, item.Payload)
					if err != nil {
						atomic.AddInt64(&o.WardFailures, 1)
						continue
					}
					recs = append(recs, *rec)
				}
				results[idx] = recs
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []emulator.WardSpawnRecord
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// decodeMovements mirrors decodeWardSpawns, discarding decode failures
// silently -- a faulty movement block contributes nothing (spec.md §4.6
// step 4, §7).
func (o *Orchestrator) decodeMovements(img *patch.Image, items []replay.TimestampedPayload) ([]movement.PathRecord, error) {
	batches := batchPayloads(items, batchSize)
	results := make([][]movement.PathRecord, len(batches))

	work := make(chan int, len(batches))
	for i := range batches {
		work <- i
	}
	close(work)

	g := new(errgroup.Group)
	for w := 0; w < o.workerCount(); w++ {
		g.Go(func() error {
			if len(batches) == 0 {
				return nil
			}
			vm, err := emulator.NewVM(img)
			if err != nil {
				return err
			}
			defer vm.Close()

			for idx := range work {
				batch := batches[idx]
				recs := make([]movement.PathRecord, 0, len(batch))
				for _, item := range batch {
					rec, err := vm.DecodeMovement(item.Timestamp, item.Payload)
					if err != nil {
						continue
					}
					recs = append(recs, *rec)
				}
				results[idx] = recs
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []movement.PathRecord
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func batchPayloads(items []replay.TimestampedPayload, size int) [][]replay.TimestampedPayload {
	if len(items) == 0 {
		return nil
	}
	var batches [][]replay.TimestampedPayload
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}
	return batches
}
