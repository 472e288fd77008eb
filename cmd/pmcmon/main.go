package main

import (
	"bufio"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/coreos/go-systemd/activation"
	"github.com/mdlayher/sdnotify"
	"github.com/prometheus/client_golang/prometheus"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"

	"github.com/hpmon/pmcmon/alloc"
	"github.com/hpmon/pmcmon/catalog"
	"github.com/hpmon/pmcmon/config"
	"github.com/hpmon/pmcmon/metrics"
	"github.com/hpmon/pmcmon/report"
	"github.com/hpmon/pmcmon/session"
)

func main() {
	configFile := kingpin.Flag("config.file", "Config file path.").ExistingFile()
	eventNames := kingpin.Flag("events", "Comma separated event names to count, overriding the config.").String()
	cpu := kingpin.Flag("cpu", "CPU to monitor, overriding the config.").Default("-1").Int()
	privilege := kingpin.Flag("privilege", "Privilege level to count (user, kernel or all), overriding the config.").String()
	duration := kingpin.Flag("duration", "How long to count before reading (0 waits for enter).").Default("0s").Duration()
	listenAddress := kingpin.Flag("web.listen-address", "If set, keep counting and serve readings over HTTP (fd://0 for systemd activation).").String()
	metricsPath := kingpin.Flag("web.telemetry-path", "Path under which to expose metrics.").Default("/metrics").String()
	noLogTime := kingpin.Flag("log.no-timestamps", "Disable timestamps in log.").Bool()
	kingpin.Version(version.Print("pmcmon"))
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	if *noLogTime {
		log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	}

	cfg := config.Config{}

	if *configFile != "" {
		parsed, err := config.ParseConfig(*configFile)
		if err != nil {
			log.Fatalf("Error parsing config: %v", err)
		}

		cfg = parsed
	}

	if *eventNames != "" {
		cfg.Events = strings.Split(*eventNames, ",")
	}

	if *cpu >= 0 {
		cfg.CPU = *cpu
	}

	if *privilege != "" {
		cfg.Privilege = *privilege
	}

	if err := config.ValidateConfig(&cfg); err != nil {
		log.Fatalf("Error validating config: %v", err)
	}

	policy, err := cfg.Policy()
	if err != nil {
		log.Fatalf("Error determining policy: %v", err)
	}

	cat := catalog.New()

	events := make([]catalog.Event, 0, len(cfg.Events))
	for _, name := range cfg.Events {
		event, err := cat.Resolve(name)
		if err != nil {
			log.Fatalf("Error resolving events: %v", err)
		}

		events = append(events, event)
	}

	assignments, err := alloc.Allocate(cat, events, policy)
	if err != nil {
		log.Fatalf("Error allocating counters: %v", err)
	}

	sess, err := session.Create(session.NewControl(cat), cfg.CPU, policy)
	if err != nil {
		log.Fatalf("Error creating session on cpu %d: %v", cfg.CPU, err)
	}

	if err := sess.Arm(assignments); err != nil {
		destroy(sess)
		log.Fatalf("Error arming session: %v", err)
	}

	if err := sess.Start(); err != nil {
		destroy(sess)
		log.Fatalf("Error starting session: %v", err)
	}

	collector := metrics.NewCollector(sess, assignments)

	if *listenAddress != "" {
		serve(*listenAddress, *metricsPath, collector, cfg.CPU)
	} else {
		wait(*duration)
	}

	collector.Sync(func() {
		if err := sess.Stop(); err != nil {
			destroy(sess)
			log.Fatalf("Error stopping session: %v", err)
		}

		fmt.Printf("<Monitoring stopped on CPU%d>\n\n", cfg.CPU)

		readings, err := sess.Read()
		if err != nil {
			destroy(sess)
			log.Fatalf("Error reading counters: %v", err)
		}

		for _, row := range report.Format(readings, assignments) {
			fmt.Println(row)
		}

		if err := sess.Destroy(); err != nil {
			log.Fatalf("Error destroying session: %v", err)
		}
	})
}

// wait pauses between start and stop: for a fixed duration when one is
// given, otherwise until the user presses enter, like the original tool
func wait(duration time.Duration) {
	if duration > 0 {
		time.Sleep(duration)
		return
	}

	fmt.Println("<Press enter to stop monitoring>")

	_, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		log.Printf("Error waiting for input, stopping now: %v", err)
	}
}

// serve exposes live readings over HTTP until SIGINT or SIGTERM arrives
func serve(addr string, metricsPath string, collector *metrics.Collector, cpu int) {
	err := prometheus.Register(versioncollector.NewCollector("pmcmon"))
	if err != nil {
		log.Fatalf("Error registering version collector: %s", err)
	}

	err = prometheus.Register(collector)
	if err != nil {
		log.Fatalf("Error registering session collector: %s", err)
	}

	http.Handle(metricsPath, promhttp.Handler())
	http.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, err = w.Write([]byte(`<html>
			<head><title>pmcmon</title></head>
			<body>
			<h1>pmcmon</h1>
			<p><a href="` + metricsPath + `">Metrics</a></p>
			</body>
			</html>`))
		if err != nil {
			log.Fatalf("Error sending response body: %s", err)
		}
	})

	go func() {
		err := listen(addr)
		if err != nil {
			log.Fatalf("Error listening on %s: %s", addr, err)
		}
	}()

	if notifier, err := sdnotify.New(); err == nil {
		err = notifier.Notify(sdnotify.Statusf("counting on cpu %d", cpu), sdnotify.Ready)
		if err != nil {
			log.Printf("Error notifying readiness: %s", err)
		}
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
}

func listen(addr string) error {
	log.Printf("Listening on %s", addr)
	if strings.HasPrefix(addr, "fd://") {
		fd, err := strconv.Atoi(strings.TrimPrefix(addr, "fd://"))
		if err != nil {
			return fmt.Errorf("error extracting fd number from %q: %v", addr, err)
		}

		listeners, err := activation.Listeners()
		if err != nil {
			return fmt.Errorf("error getting activation listeners: %v", err)
		}

		if len(listeners) < fd+1 {
			return fmt.Errorf("no listeners passed via activation")
		}

		return http.Serve(listeners[fd], nil)
	}

	return http.ListenAndServe(addr, nil)
}

// destroy reclaims a partially set up session before exiting on error
func destroy(sess *session.Session) {
	if err := sess.Destroy(); err != nil {
		log.Printf("Error destroying session: %v", err)
	}
}
