// Command ember-driver hosts the C5 scheduler, C7 session manager and C8
// request dispatcher in one process — the "driver" half of spec.md §4,
// the generalization of the teacher's single Main() entrypoint (driver.go)
// into a standing service rather than a one-shot job submission.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"google.golang.org/grpc"

	"github.com/emberql/emberql"
	"github.com/emberql/emberql/internal/pkg/embcontrol"
	"github.com/emberql/emberql/internal/pkg/embdispatch"
	"github.com/emberql/emberql/internal/pkg/embfleet"
	"github.com/emberql/emberql/internal/pkg/embfleet/awslambda"
	"github.com/emberql/emberql/internal/pkg/embfleet/openwhisk"
	"github.com/emberql/emberql/internal/pkg/embrpc"
)

var fleetKind = flag.String("fleet", "local", "worker fleet provider: local, external, lambda, whisk")
var workerBin = flag.String("worker-bin", "ember-worker", "path to the ember-worker binary (local fleet only)")
var externalLaunchURL = flag.String("external-launch-url", "", "orchestrator launch endpoint (external fleet only)")
var externalTerminateURL = flag.String("external-terminate-url", "", "orchestrator terminate endpoint (external fleet only)")
var functionName = flag.String("function-name", "emberql-worker", "FaaS function name (lambda/whisk fleets only)")

func main() {
	flag.Parse()
	cfg := emberql.LoadConfig()

	driverAddr := fmt.Sprintf("%s:%d", cfg.DriverExternalHost, cfg.DriverExternalPort)

	provider := buildProvider()
	fleet := embfleet.NewBoundedProvider(provider, driverAddr, cfg.WorkerInitialCount, cfg.WorkerMaxCount)

	dispatcher := embcontrol.NewRemoteDispatcher()
	scheduler := emberql.NewScheduler(cfg, dispatcher, fleet)
	go scheduler.Run()

	sessions := emberql.NewSessionManager(cfg, func(*emberql.Config) emberql.JobRunner {
		return emberql.NewLocalJobRunner(scheduler)
	})
	go sessions.Run()

	grpcServer := grpc.NewServer(embrpc.ServerOptions("ember-driver")...)
	embcontrol.RegisterDriverControlServer(grpcServer, embcontrol.NewSchedulerServer(scheduler))

	dispatchServer, err := embdispatch.NewServer(sessions, cfg)
	if err != nil {
		log.Fatalf("ember-driver: building dispatch server: %+v", err)
	}
	embdispatch.RegisterDispatchServer(grpcServer, dispatchServer)

	listenAddr := fmt.Sprintf("%s:%d", cfg.DriverListenHost, cfg.DriverListenPort)
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.Fatalf("ember-driver: listen %s: %+v", listenAddr, err)
	}
	log.Infof("ember-driver: listening on %s (external address %s)", listenAddr, driverAddr)

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorf("ember-driver: grpc serve: %+v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("ember-driver: shutting down")
	grpcServer.GracefulStop()
	sessions.Stop()
	scheduler.Stop()
}

func buildProvider() embfleet.Provider {
	switch *fleetKind {
	case "external":
		if *externalLaunchURL == "" || *externalTerminateURL == "" {
			log.Fatal("ember-driver: --external-launch-url and --external-terminate-url are required for the external fleet provider")
		}
		return embfleet.NewExternalOrchestratorProvider(*externalLaunchURL, *externalTerminateURL)
	case "lambda":
		p := awslambda.NewProvider(awslambda.Config{FunctionName: *functionName, ManageRole: true})
		if err := p.Deploy(); err != nil {
			log.Fatalf("ember-driver: deploying lambda worker function: %+v", err)
		}
		return p
	case "whisk":
		p := openwhisk.NewProvider(openwhisk.Config{FunctionName: *functionName})
		if err := p.Deploy(); err != nil {
			log.Fatalf("ember-driver: deploying whisk worker action: %+v", err)
		}
		return p
	default:
		return embfleet.NewLocalProcessProvider(*workerBin)
	}
}
