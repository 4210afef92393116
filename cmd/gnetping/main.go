// Command gnetping is a minimal CLI exercising the handshake, a reliable
// parcel round trip, and a short stream write over a real UDP socket.
// Grounded on ping/ping.go: thin CLI glue over the protocol engine, with
// logging and argument parsing only, no protocol logic inline.
package main

import (
	"encoding/hex"
	"net"
	"os"
	"time"

	"flag"

	"github.com/griffone/gnet/conn"
	"github.com/griffone/gnet/endpoint"
	"github.com/griffone/gnet/handshake"
	"github.com/griffone/gnet/listen"
	"github.com/griffone/gnet/packet"
	"github.com/griffone/gnet/parcel"
	"github.com/griffone/gnet/transmit"
	"github.com/griffone/gnet/wconfig"
	"github.com/griffone/gnet/wlog"
)

type pingMessage struct {
	Seq int
}

func main() {
	listenAddr := flag.String("listen", "", "address to listen on, e.g. 127.0.0.1:40001")
	dialAddr := flag.String("dial", "", "address to dial, e.g. 127.0.0.1:40001")
	hashKeyHex := flag.String("hash-key", "", "32 hex chars: 16-byte siphash key shared with the peer; zero key if omitted")
	flag.Parse()

	log := wlog.New("gnetping")

	if (*listenAddr == "") == (*dialAddr == "") {
		log.Fatal("exactly one of -listen or -dial is required")
	}

	hb, err := resolveHashBuilder(*hashKeyHex)
	if err != nil {
		log.Fatalf("hash key: %v", err)
	}

	cfg := wconfig.Default()

	if *listenAddr != "" {
		runServer(*listenAddr, hb, cfg)
		return
	}
	runClient(*dialAddr, hb, cfg)
}

func resolveHashBuilder(hexKey string) (packet.SipHashBuilder, error) {
	var key [16]byte
	if hexKey == "" {
		return packet.NewSipHashBuilder(key), nil
	}
	decoded, err := hex.DecodeString(hexKey)
	if err != nil {
		return packet.SipHashBuilder{}, err
	}
	copy(key[:], decoded)
	return packet.NewSipHashBuilder(key), nil
}

func runServer(addr string, hb packet.HashBuilder, cfg wconfig.Config) {
	log := wlog.New("gnetping/server")
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		log.Fatalf("resolve: %v", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer udpConn.Close()

	tr := transmit.New(udpConn, cfg.MaxDatagramLength)
	ep := endpoint.NewServer(tr)
	l := listen.New[pingMessage](ep, hb, parcel.CBORSerializer[pingMessage]{}, cfg.ReliabilityConfig(), time.Duration(cfg.Timeout), nil)

	log.Infof("listening on %s", addr)
	connections := map[uint32]*conn.Connection[pingMessage]{}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		ep.Pump(hb)
		for _, c := range l.Accept(now) {
			connections[c.ID()] = c
		}
		for id, c := range connections {
			for _, pkt := range ep.Take(id) {
				c.Deliver(pkt, now)
			}
			c.Tick(now)
			if req, err := c.PopParcel(now); err == nil {
				log.Infof("connection %d: got ping seq=%d, replying", id, req.Parcel.Seq)
				_ = c.PushReliableParcel(pingMessage{Seq: req.Parcel.Seq}, req.Prelude, now)
			}
			if c.Status() != conn.Open {
				delete(connections, id)
			}
		}
	}
}

func runClient(addr string, hb packet.HashBuilder, cfg wconfig.Config) {
	log := wlog.New("gnetping/client")
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		log.Fatalf("resolve: %v", err)
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		log.Fatalf("bind local socket: %v", err)
	}
	defer udpConn.Close()

	tr := transmit.New(udpConn, cfg.MaxDatagramLength)
	ep := endpoint.NewClient(tr)

	start := time.Now()
	pc, err := handshake.ConnectWithTiming(ep, udpAddr, nil, hb, start, time.Duration(cfg.HandshakeRetryInterval), time.Duration(cfg.Timeout))
	if err != nil {
		log.Fatalf("connect: %v", err)
	}

	var c *conn.Connection[pingMessage]
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		ep.Pump(hb)

		if c == nil {
			promo, err := pc.TryPromote(now)
			if err == handshake.ErrStillPending {
				if syncErr := pc.Sync(now); syncErr != nil {
					log.Fatalf("handshake failed: %v", syncErr)
				}
				continue
			}
			if err != nil {
				log.Fatalf("handshake failed: %v", err)
			}
			c = conn.New[pingMessage](promo.ConnectionID, promo.RemoteAddr, ep, hb, parcel.CBORSerializer[pingMessage]{}, cfg.ReliabilityConfig(), time.Duration(cfg.Timeout), now)
			_ = c.PushReliableParcel(pingMessage{Seq: 1}, 0, now)
			_ = c.WriteBytesToStream([]byte("ping"), now)
			_ = c.Flush(now)
			log.Infof("connected as connection_id=%d, ping sent", promo.ConnectionID)
			continue
		}

		for _, pkt := range ep.Take(c.ID()) {
			c.Deliver(pkt, now)
		}
		c.Tick(now)
		if reply, err := c.PopParcel(now); err == nil {
			log.Infof("pong seq=%d after %v", reply.Parcel.Seq, time.Since(start))
			os.Exit(0)
		}
		if c.Status() != conn.Open {
			log.Fatalf("connection lost waiting for pong")
		}
	}
}
