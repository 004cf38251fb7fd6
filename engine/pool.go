package engine

import (
	"runtime"
)

type (
	// workerPool processes the channels of a stage in parallel. Each channel
	// is handed to exactly one worker, so runs of the same channel never
	// execute concurrently and keep their chain order.
	workerPool struct {
		commands chan<- channelCommand
		results  <-chan struct{}
	}

	channelCommand struct {
		channel *Channel
		stage   Stage
		tick    *Tick
	}
)

func (e *Engine) startWorkers(n int) *workerPool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	cmdChan := make(chan channelCommand, n)
	resultsChan := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func(commandCh <-chan channelCommand, resultCh chan<- struct{}) {
			for cmd := range commandCh {
				e.processChannel(cmd.channel, cmd.stage, cmd.tick)
				resultCh <- struct{}{}
			}
		}(cmdChan, resultsChan)
	}
	return &workerPool{commands: cmdChan, results: resultsChan}
}

// run processes all channels of all audios for one stage and returns when
// every one of them is finished.
func (p *workerPool) run(audios []*Audio, stage Stage, t *Tick) {
	sent, received := 0, 0
	for _, a := range audios {
		for _, c := range a.Channels() {
			// at most cap(results) commands in flight
			for sent-received >= cap(p.results) {
				<-p.results
				received++
			}
			p.commands <- channelCommand{channel: c, stage: stage, tick: t}
			sent++
		}
	}
	for ; received < sent; received++ {
		<-p.results
	}
}

func (p *workerPool) close() {
	close(p.commands)
}
