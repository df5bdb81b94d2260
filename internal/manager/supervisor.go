package manager

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/cbegin/hapticbridge-go/internal/dispatch"
	"github.com/cbegin/hapticbridge-go/internal/oscin"
	"github.com/cbegin/hapticbridge-go/internal/toy"
)

// Event is one input to the supervisor: a toy update or a state signal.
type Event interface{ supervisorEvent() }

// AddToy inserts a toy and, while listening, starts its dispatcher.
type AddToy struct{ Toy *toy.Toy }

// RemoveToy stops the toy's dispatcher and forgets it.
type RemoveToy struct{ ID uint32 }

// AlterToy replaces a toy's canonical copy and broadcasts the new feature
// table to its dispatcher.
type AlterToy struct{ Toy *toy.Toy }

// StartListening moves the supervisor from Idle to Listening.
type StartListening struct{ Net oscin.Networking }

// StopListening tears down every dispatcher and returns to Idle.
type StopListening struct{}

// Reset, while listening, is StopListening plus dropping all toys the
// supervisor tracks. While idle it is a no-op and the toys are kept.
type Reset struct{}

func (AddToy) supervisorEvent()         {}
func (RemoveToy) supervisorEvent()      {}
func (AlterToy) supervisorEvent()       {}
func (StartListening) supervisorEvent() {}
func (StopListening) supervisorEvent()  {}
func (Reset) supervisorEvent()          {}

// IngestFunc runs the OSC ingest task for one listening session. It must
// return when ctx is cancelled or the broadcaster closes.
type IngestFunc func(ctx context.Context, bcast *dispatch.Broadcaster, net oscin.Networking)

const broadcastBuffer = 1024

// Supervisor owns the set of per-toy dispatcher tasks. It is a two-state
// machine: Idle keeps only the toy map current, Listening additionally
// runs one dispatcher per toy plus the OSC ingest task. Each listening
// session gets its own context scope and broadcaster, so leaving the state
// tears the whole task set down at once.
type Supervisor struct {
	events chan Event
	emit   *dispatch.Emitter
	ingest IngestFunc
	log    zerolog.Logger

	toys   map[uint32]*toy.Toy
	active atomic.Int32
}

func NewSupervisor(emit *dispatch.Emitter, ingest IngestFunc, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		events: make(chan Event, 64),
		emit:   emit,
		ingest: ingest,
		log:    log.With().Str("component", "supervisor").Logger(),
		toys:   make(map[uint32]*toy.Toy),
	}
}

// Send queues an event for the supervisor loop.
func (s *Supervisor) Send(ev Event) {
	s.events <- ev
}

// ActiveDispatchers reports how many dispatcher goroutines are running.
func (s *Supervisor) ActiveDispatchers() int {
	return int(s.active.Load())
}

// Run is the supervisor loop. It blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			switch e := ev.(type) {
			case AddToy:
				s.toys[e.Toy.ID] = e.Toy
			case RemoveToy:
				delete(s.toys, e.ID)
			case AlterToy:
				s.toys[e.Toy.ID] = e.Toy
			case StartListening:
				if s.listen(ctx, e.Net) {
					return
				}
			case StopListening:
				s.log.Info().Msg("stop requested while not listening")
			case Reset:
				s.log.Info().Msg("reset requested while not listening")
			}
		}
	}
}

type toyTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// listen runs one Listening session. Returns true when the surrounding
// context died and Run should exit.
func (s *Supervisor) listen(ctx context.Context, netCfg oscin.Networking) (shutdown bool) {
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bcast := dispatch.NewBroadcaster(broadcastBuffer)
	tasks := make(map[uint32]*toyTask, len(s.toys))

	stopAll := func() {
		for id, task := range tasks {
			task.cancel()
			<-task.done
			s.log.Info().Uint32("toy", id).Msg("dispatcher stopped")
		}
		tasks = nil
		// Closed last: this is what makes the ingest task exit.
		bcast.Close()
	}

	for _, t := range s.toys {
		tasks[t.ID] = s.startToy(lctx, bcast, t)
	}
	if s.ingest != nil {
		go s.ingest(lctx, bcast, netCfg)
	}
	s.log.Info().Int("toys", len(tasks)).Msg("listening")

	for {
		select {
		case <-ctx.Done():
			stopAll()
			return true
		case ev := <-s.events:
			switch e := ev.(type) {
			case AddToy:
				s.toys[e.Toy.ID] = e.Toy
				tasks[e.Toy.ID] = s.startToy(lctx, bcast, e.Toy)
				s.log.Info().Uint32("toy", e.Toy.ID).Msg("dispatcher started")
			case RemoveToy:
				if task, ok := tasks[e.ID]; ok {
					task.cancel()
					<-task.done
					delete(tasks, e.ID)
				}
				delete(s.toys, e.ID)
				s.log.Info().Uint32("toy", e.ID).Msg("stopped listening")
			case AlterToy:
				s.toys[e.Toy.ID] = e.Toy
				n := bcast.Send(dispatch.UpdateSignal(e.Toy.Clone()))
				s.log.Info().Uint32("toy", e.Toy.ID).Int("receivers", n).Msg("toy update broadcast")
			case StartListening:
				// Already listening; the request and its endpoint are
				// ignored.
				s.log.Warn().Msg("start requested while already listening")
			case StopListening:
				stopAll()
				s.log.Info().Int("toys", len(s.toys)).Msg("stopped listening")
				return false
			case Reset:
				stopAll()
				s.toys = make(map[uint32]*toy.Toy)
				s.log.Info().Msg("supervisor reset")
				return false
			}
		}
	}
}

func (s *Supervisor) startToy(lctx context.Context, bcast *dispatch.Broadcaster, t *toy.Toy) *toyTask {
	tctx, tcancel := context.WithCancel(lctx)
	sub := bcast.Subscribe()
	t.Listening = true
	d := dispatch.New(t.Device, sub, t.Table.Clone(), s.emit, s.log)
	done := make(chan struct{})
	s.active.Add(1)
	go func() {
		defer close(done)
		defer s.active.Add(-1)
		defer sub.Close()
		d.Run(tctx)
	}()
	return &toyTask{cancel: tcancel, done: done}
}
