package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sleepband/gateway/pkg/gateway"
	"github.com/sleepband/gateway/pkg/protocol"
	"github.com/sleepband/gateway/pkg/redis"
	"github.com/sleepband/gateway/pkg/transport"
)

var (
	serialDevice = flag.String("serial", "/dev/ttyUSB0", "Serial device path")
	baudRate     = flag.Int("baud", 115200, "Serial baud rate")
	redisAddr    = flag.String("redis-addr", "localhost:6379", "Redis server address")
	redisPass    = flag.String("redis-pass", "", "Redis password")
	redisDB      = flag.Int("redis-db", 0, "Redis database number")
	hostID       = flag.Uint("host-id", 0x1234, "Host identifier sent in SESSION_START")
	inFlightTTL  = flag.Duration("in-flight-ttl", 30*time.Second, "How long a request waits for its response before synthetic failure")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting sleepband gateway")
	log.Printf("Serial device: %s", *serialDevice)
	log.Printf("Baud rate: %d", *baudRate)
	log.Printf("Redis address: %s", *redisAddr)

	redisClient, err := redis.New(*redisAddr, *redisPass, *redisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Printf("Connected to Redis")

	adapter := transport.NewSerialAdapter(*serialDevice, *baudRate)

	cfg := protocol.DefaultConfig()
	cfg.HostID = uint32(*hostID)
	cfg.InFlightTTL = *inFlightTTL

	gw := gateway.New(redisClient, adapter, cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
		gw.Stop()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Gateway exited: %v", err)
		}
	}

	log.Printf("Shut down")
}
