// Command agent is the field companion for one loading point: it keeps a
// local catalog copy, captures loadings offline, and pushes the pending
// queue when connectivity allows.
//
// Usage:
//
//	agent -db loadings.db -api http://server:8080 refresh
//	agent -db loadings.db status
//	agent -db loadings.db -api http://server:8080 sync
//	agent -db loadings.db -api http://server:8080 load -vehicle QR-7 -meter <uuid> ...
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"p9e.in/rdiesel/mobile/api"
	"p9e.in/rdiesel/mobile/catalog"
	"p9e.in/rdiesel/mobile/device"
	"p9e.in/rdiesel/mobile/session"
	"p9e.in/rdiesel/mobile/store"
	"p9e.in/rdiesel/mobile/syncer"
)

func main() {
	dbPath := flag.String("db", "loadings.db", "Path to the local transaction database")
	apiURL := flag.String("api", "http://localhost:8080", "Base URL of the rdiesel server")
	deviceID := flag.String("device-id", hostnameOr("agent"), "Identifier reported with each synced loading")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: agent [flags] refresh|status|sync|load")
		flag.PrintDefaults()
		os.Exit(2)
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("open local store: %v", err)
	}
	defer st.Close()

	client := api.NewClient(*apiURL)
	cache := catalog.New(st, client)
	if err := cache.Load(); err != nil {
		log.Fatalf("load cached catalog: %v", err)
	}

	ctx := context.Background()

	switch cmd := flag.Arg(0); cmd {
	case "refresh":
		runRefresh(ctx, cache)
	case "status":
		runStatus(st, cache)
	case "sync":
		runSync(ctx, st, client, *deviceID, flag.Args()[1:])
	case "load":
		runLoad(ctx, cache, st, flag.Args()[1:])
	default:
		log.Fatalf("unknown command %q", cmd)
	}
}

func hostnameOr(fallback string) string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return fallback
}

// runRefresh pulls the full reference snapshot and replaces the cached
// copy wholesale.
func runRefresh(ctx context.Context, cache *catalog.Cache) {
	if err := cache.Refresh(ctx); err != nil {
		log.Fatalf("refresh catalog: %v", err)
	}
	when, _ := cache.LastSync()
	fmt.Printf("catalog refreshed at %s\n", when.Format(time.RFC3339))
}

func runStatus(st *store.Store, cache *catalog.Cache) {
	pending, err := st.CountPending()
	if err != nil {
		log.Fatalf("count pending: %v", err)
	}
	failed, err := st.CountFailed()
	if err != nil {
		log.Fatalf("count failed: %v", err)
	}

	fmt.Printf("pending loadings: %d\n", pending)
	fmt.Printf("failed loadings:  %d\n", failed)
	if when, ok := cache.LastSync(); ok {
		fmt.Printf("catalog as of:    %s\n", when.Format(time.RFC3339))
	} else {
		fmt.Println("catalog as of:    never (run refresh before capturing)")
	}

	if failed == 0 {
		return
	}
	parked, err := st.ListFailed()
	if err != nil {
		log.Fatalf("list failed: %v", err)
	}
	for _, info := range parked {
		fmt.Printf("  %s  vehicle=%s  attempts=%d  last error=%s\n",
			info.Record.ID, info.Record.VehicleCode, info.Attempts, info.LastErrorKind)
	}
}

// runSync drains the pending queue oldest-first. With -batch the whole
// queue travels in one request instead of one upload per record.
func runSync(ctx context.Context, st *store.Store, client *api.Client, deviceID string, args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	batch := fs.Bool("batch", false, "Send all pending loadings in a single request")
	fs.Parse(args)

	s := syncer.New(st, client, deviceID)
	var (
		results []syncer.Result
		err     error
	)
	if *batch {
		results, err = s.SyncBatch(ctx)
	} else {
		results, err = s.SyncPending(ctx)
	}
	for _, res := range results {
		switch {
		case res.Synced && res.Duplicate:
			fmt.Printf("%s  already on server\n", res.ID)
		case res.Synced:
			fmt.Printf("%s  synced\n", res.ID)
		default:
			fmt.Printf("%s  %s: %v\n", res.ID, res.Kind, res.Err)
		}
	}
	if err != nil {
		log.Fatalf("sync pass aborted: %v", err)
	}
}

// runLoad walks one loading through the capture flow using the simulated
// flow meter, then stores it for the next sync pass.
func runLoad(ctx context.Context, cache *catalog.Cache, st *store.Store, args []string) {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	vehicleCode := fs.String("vehicle", "", "Vehicle QR code")
	meterID := fs.String("meter", "", "Flow meter device id")
	meterValue := fs.Float64("meter-value", 0, "Vehicle hour-meter or odometer reading")
	evidencePath := fs.String("evidence", "", "Path to a vehicle photo")
	signer := fs.String("signer", "", "Name of the person receiving the fuel")
	liters := fs.Float64("liters", 100, "Volume to deliver (simulated)")
	fs.Parse(args)

	if *vehicleCode == "" || *meterID == "" || *evidencePath == "" || *signer == "" {
		fmt.Fprintln(os.Stderr, "load requires -vehicle, -meter, -evidence and -signer")
		fs.PrintDefaults()
		os.Exit(2)
	}
	mid, err := uuid.Parse(*meterID)
	if err != nil {
		log.Fatalf("invalid meter id: %v", err)
	}

	dev := &device.Simulator{
		FlowRate:    2,
		Interval:    time.Second,
		TotalVolume: *liters,
	}
	sess := session.New(cache, st, dev)

	if err := sess.IdentifyVehicle(*vehicleCode); err != nil {
		log.Fatalf("identify vehicle: %v", err)
	}
	if err := sess.CaptureMeterValue(*meterValue); err != nil {
		log.Fatalf("capture meter value: %v", err)
	}
	if err := sess.AddEvidence(store.EvidenceVehicle, *evidencePath, "image/jpeg"); err != nil {
		log.Fatalf("add evidence: %v", err)
	}
	if err := sess.BindMeterDevice(mid); err != nil {
		log.Fatalf("bind meter device: %v", err)
	}

	if err := sess.BeginMeasurement(ctx); err != nil {
		log.Fatalf("begin measurement: %v", err)
	}
	fmt.Println("measuring...")
	for r := range sess.InterimReadings() {
		fmt.Printf("  %.1f L  (%.1f L/s)\n", r.TotalLiters-sess.Draft().InitialReading, r.FlowRate)
		if r.FlowRate == 0 {
			break
		}
	}

	final, err := dev.StopMeasurement()
	if err != nil {
		log.Fatalf("stop measurement: %v", err)
	}
	if err := sess.EndMeasurement(final); err != nil {
		log.Fatalf("end measurement: %v", err)
	}

	sig := []byte(*signer) // placeholder image; real capture comes from the signature pad
	if err := sess.AttachSignature(*signer, sig); err != nil {
		log.Fatalf("attach signature: %v", err)
	}

	rec, err := sess.Submit()
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	fmt.Printf("loading %s stored: %.1f L delivered to %s\n", rec.ID, rec.VolumeDelivered, rec.VehicleCode)
	fmt.Println("run `agent sync` to push it to the server")
}
