// Command ember-worker hosts the C3 worker runtime and its C1 data-plane
// endpoint, registering back with a driver at startup — the per-worker
// counterpart to the teacher's single in-process executor (executor.go),
// now a standing process of its own (spec.md §4.3/§4.6).
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/emberql/emberql"
	"github.com/emberql/emberql/internal/pkg/embcontrol"
	"github.com/emberql/emberql/internal/pkg/embrpc"
	"github.com/emberql/emberql/internal/pkg/embshuffle"
	"github.com/emberql/emberql/internal/pkg/embtransport"
	"github.com/emberql/emberql/internal/pkg/embworker"
)

var listenHost = flag.String("listen-host", "0.0.0.0", "address this worker's data/control endpoints bind to")
var listenPort = flag.Int("listen-port", 0, "port to bind to; 0 picks a free port")
var advertiseHost = flag.String("advertise-host", "127.0.0.1", "host the driver should dial back to reach this worker")

func main() {
	flag.Parse()
	cfg := emberql.LoadConfig()

	driverAddr := os.Getenv("EMBER_DRIVER_ADDR")
	if driverAddr == "" {
		driverAddr = fmt.Sprintf("%s:%d", cfg.DriverExternalHost, cfg.DriverExternalPort)
	}

	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", *listenHost, *listenPort))
	if err != nil {
		log.Fatalf("ember-worker: listen: %+v", err)
	}
	port := lis.Addr().(*net.TCPAddr).Port

	store := embshuffle.NewMemoryStore(cfg.ShuffleBufferCap)
	fetcher := embtransport.NewFetcher(cfg.TransportBufDepth)

	driverConn, err := grpc.NewClient(driverAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		embrpc.DialOption(),
	)
	if err != nil {
		log.Fatalf("ember-worker: dial driver %s: %+v", driverAddr, err)
	}
	driverClient := embcontrol.NewDriverControlClient(driverConn)
	statusClient := embcontrol.NewStatusClient(driverClient)
	heartbeatClient := embcontrol.NewHeartbeatClient(driverClient)

	runtime := embworker.NewRuntime(cfg.WorkerTaskSlots, store, nil, fetcher, statusClient)

	grpcServer := grpc.NewServer(embrpc.ServerOptions("ember-worker")...)
	embcontrol.RegisterWorkerControlServer(grpcServer, embcontrol.NewRuntimeServer(runtime))
	embtransport.RegisterDataPlaneServer(grpcServer, embworker.NewDataPlaneServer(store))

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorf("ember-worker: grpc serve: %+v", err)
		}
	}()

	workerID := randomWorkerID()
	if err := registerWithRetry(driverClient, workerID, *advertiseHost, port); err != nil {
		log.Fatalf("ember-worker: registering with driver: %+v", err)
	}
	log.Infof("ember-worker: registered worker %d at %s:%d, driver %s", workerID, *advertiseHost, port, driverAddr)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.Background())
	go embworker.RunHeartbeatLoop(heartbeatCtx, workerID, heartbeatClient, cfg.WorkerHeartbeatInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("ember-worker: shutting down")
	cancelHeartbeat()
	grpcServer.GracefulStop()
}

func randomWorkerID() uint64 {
	r := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(os.Getpid())))
	return r.Uint64()
}

func registerWithRetry(client embcontrol.DriverControlClient, workerID uint64, host string, port int) error {
	var lastErr error
	for i := 0; i < 10; i++ {
		_, err := client.RegisterWorker(context.Background(), &embcontrol.RegisterWorkerRequest{
			WorkerID: workerID,
			Host:     host,
			Port:     port,
		})
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(time.Second)
	}
	return lastErr
}
