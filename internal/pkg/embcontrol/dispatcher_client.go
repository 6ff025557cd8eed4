package embcontrol

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/emberql/emberql"
	"github.com/emberql/emberql/internal/pkg/embrpc"
	"github.com/emberql/emberql/plan"
)

// RemoteDispatcher implements emberql.WorkerDispatcher over real gRPC
// connections to each worker's WorkerControl endpoint, caching one
// connection per address the way embtransport's Fetcher leaves dialing to
// its caller and embworker.Runtime caches its own peer connections.
type RemoteDispatcher struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func NewRemoteDispatcher() *RemoteDispatcher {
	return &RemoteDispatcher{conns: make(map[string]*grpc.ClientConn)}
}

func (d *RemoteDispatcher) clientFor(w *emberql.Worker) (WorkerControlClient, error) {
	addr := fmt.Sprintf("%s:%d", w.Host, w.Port)
	d.mu.Lock()
	defer d.mu.Unlock()
	cc, ok := d.conns[addr]
	if !ok {
		var err error
		cc, err = grpc.NewClient(addr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			embrpc.DialOption(),
		)
		if err != nil {
			return nil, err
		}
		d.conns[addr] = cc
	}
	return NewWorkerControlClient(cc), nil
}

func (d *RemoteDispatcher) RunTask(w *emberql.Worker, t *emberql.Task, planBytes []byte, inputs []emberql.ShuffleSource, numPartitions int, consumption plan.ConsumptionMode) error {
	client, err := d.clientFor(w)
	if err != nil {
		return err
	}
	dtoInputs := make([]ShuffleSourceDTO, len(inputs))
	for i, in := range inputs {
		dtoInputs[i] = ShuffleSourceDTO{WorkerAddr: in.WorkerAddr, Channel: in.Channel}
	}
	_, err = client.RunTask(context.Background(), &RunTaskRequest{
		TaskID:        uint64(t.ID),
		Attempt:       t.Attempt,
		PlanBytes:     planBytes,
		Partition:     t.Partition,
		NumPartitions: numPartitions,
		Consumption:   int32(consumption),
		OutputChannel: t.Channel,
		Inputs:        dtoInputs,
	})
	return err
}

func (d *RemoteDispatcher) StopTask(w *emberql.Worker, t *emberql.Task) error {
	client, err := d.clientFor(w)
	if err != nil {
		return err
	}
	_, err = client.StopTask(context.Background(), &StopTaskRequest{TaskID: uint64(t.ID), Attempt: t.Attempt})
	return err
}

func (d *RemoteDispatcher) RemoveStream(w *emberql.Worker, channel string) error {
	client, err := d.clientFor(w)
	if err != nil {
		return err
	}
	_, err = client.RemoveStream(context.Background(), &RemoveStreamRequest{Channel: channel})
	return err
}

func (d *RemoteDispatcher) StopWorker(w *emberql.Worker) error {
	client, err := d.clientFor(w)
	if err != nil {
		return err
	}
	_, err = client.StopWorker(context.Background(), &StopWorkerRequest{})
	return err
}
