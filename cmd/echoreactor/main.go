package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/hejm87/reactor"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "echoreactor"
	myApp.Usage = "line-echo server built on the reactor package"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen,l",
			Value: "127.0.0.1:7890",
			Usage: `listen address, eg: "IP:PORT"`,
		},
		cli.IntFlag{
			Name:  "threads",
			Value: 4,
			Usage: "reactor worker goroutines (epoll shards)",
		},
		cli.IntFlag{
			Name:  "maxfd",
			Value: 65536,
			Usage: "maximum fds tracked by the reactor across all shards",
		},
		cli.IntFlag{
			Name:  "timerthreads",
			Value: 2,
			Usage: "timer service worker goroutines",
		},
		cli.IntFlag{
			Name:  "idletimeout",
			Value: 0,
			Usage: "seconds of read inactivity before a connection is released; 0 disables",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "write logs to this file instead of stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "only log errors",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "JSON config file; overrides flags with the same name",
		},
	}
	myApp.Action = run

	if err := myApp.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func run(c *cli.Context) error {
	config := Config{
		Listen:       c.String("listen"),
		Threads:      c.Int("threads"),
		MaxFd:        c.Int("maxfd"),
		TimerThreads: c.Int("timerthreads"),
		IdleTimeout:  c.Int("idletimeout"),
		Log:          c.String("log"),
		Quiet:        c.Bool("quiet"),
	}

	if c.String("c") != "" {
		checkError(parseJSONConfig(&config, c.String("c")))
	}

	if config.Log != "" {
		f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		checkError(err)
		defer f.Close()
		log.SetOutput(f)
	}

	if !config.Quiet {
		log.Println("version:", VERSION)
		log.Println("listening on:", config.Listen)
		log.Println("threads:", config.Threads, "maxfd:", config.MaxFd)
		log.Println("timerthreads:", config.TimerThreads)
		log.Println("idletimeout:", config.IdleTimeout)
	}

	host, port, err := splitHostPort(config.Listen)
	checkError(err)

	rx, err := reactor.NewReactor(config.Threads, config.MaxFd)
	checkError(err)

	tm := reactor.NewTimer()
	tm.Init(config.TimerThreads)

	srv := newEchoServer(rx, tm, host, port, config.IdleTimeout, config.Quiet)
	checkError(srv.listen())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if !config.Quiet {
		log.Println("shutting down")
	}
	rx.Terminate()
	tm.Shutdown()
	return nil
}

// echoServer wires one ServerChannel and the per-connection bookkeeping
// needed to demonstrate the Timer component alongside the reactor: each
// accepted connection gets an idle-timeout timer that's reset on every
// received frame and cancelled on close.
type echoServer struct {
	rx          *reactor.Reactor
	tm          *reactor.Timer
	host        string
	port        int
	idleTimeout time.Duration
	quiet       bool

	srv *reactor.ServerChannel

	mu    sync.Mutex
	conns map[*reactor.ConnectedChannel]reactor.TimerId
}

func newEchoServer(rx *reactor.Reactor, tm *reactor.Timer, host string, port int, idleTimeoutSec int, quiet bool) *echoServer {
	return &echoServer{
		rx:          rx,
		tm:          tm,
		host:        host,
		port:        port,
		idleTimeout: time.Duration(idleTimeoutSec) * time.Second,
		quiet:       quiet,
		conns:       make(map[*reactor.ConnectedChannel]reactor.TimerId),
	}
}

func (s *echoServer) listen() error {
	s.srv = reactor.NewServerChannel(s.rx, s.host, s.port, 128, nil, reactor.Hooks{
		OnAccept: s.onAccept,
	})
	if !s.srv.Init() {
		return fmt.Errorf("echoreactor: listen on %s:%d failed", s.host, s.port)
	}
	return nil
}

func (s *echoServer) onAccept() {
	fd, err := s.srv.Accept()
	if err != nil {
		return
	}

	var cc *reactor.ConnectedChannel
	cc = reactor.NewConnectedChannel(s.rx, fd, nil, lineDecoder{}, reactor.Hooks{
		OnMessage: func(msg []byte) { s.onLine(cc, msg) },
		OnClose:   func() { s.onDisconnect(cc) },
		OnError:   func(err error) { s.onDisconnect(cc) },
	})
	if !cc.Init() {
		return
	}

	s.armIdleTimer(cc)
	if !s.quiet {
		log.Println("accepted fd", cc.Fd())
	}
}

func (s *echoServer) onLine(cc *reactor.ConnectedChannel, msg []byte) {
	s.armIdleTimer(cc) // any traffic resets the idle clock
	echoed := append(append([]byte(nil), msg...), '\n')
	cc.SendBuffer(echoed)
}

func (s *echoServer) armIdleTimer(cc *reactor.ConnectedChannel) {
	if s.idleTimeout <= 0 {
		return
	}
	s.mu.Lock()
	if old, ok := s.conns[cc]; ok {
		s.tm.Cancel(old) // best-effort; already-fired entries are harmless to ignore
	}
	s.conns[cc] = s.tm.Set(s.idleTimeout, func() {
		if !s.quiet {
			log.Println("idle timeout, releasing fd", cc.Fd())
		}
		cc.Release()
	})
	s.mu.Unlock()
}

func (s *echoServer) onDisconnect(cc *reactor.ConnectedChannel) {
	s.mu.Lock()
	if id, ok := s.conns[cc]; ok {
		s.tm.Cancel(id)
		delete(s.conns, cc)
	}
	s.mu.Unlock()
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
