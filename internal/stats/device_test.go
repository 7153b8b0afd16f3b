package stats

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/minerwatch/minerwatch-core/internal/miner"
)

func TestCollectDeviceInfo(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				if _, err := bufio.NewReader(conn).ReadBytes('\n'); err != nil {
					return
				}
				conn.Write([]byte(`{` +
					`"devs":[{"STATUS":[{"STATUS":"S","Code":9,"Msg":"2 ASC(s)"}],"DEVS":[{"ID":0,"Nominal MHS":13500000,"MHS 1m":13210000},{"ID":1,"Nominal MHS":13500000,"MHS 1m":13480000}]}],` +
					`"temps":[{"STATUS":[{"STATUS":"S","Code":201,"Msg":"temps"}],"TEMPS":[{"ID":0,"Board":55.0,"Chip":71.5}]}],` +
					`"fans":[{"STATUS":[{"STATUS":"S","Code":202,"Msg":"fans"}],"FANS":[{"ID":0,"RPM":4200,"Speed":70}]}],` +
					`"id":1}`))
			}(conn)
		}
	}()

	ep, err := miner.ParseEndpoint(ln.Addr().String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	client := miner.NewClient(miner.Config{
		Endpoint:         ep,
		Dialect:          miner.DialectBOSminer,
		FirstByteTimeout: time.Second,
		InterReadTimeout: 20 * time.Millisecond,
	})

	info, err := CollectDeviceInfo(context.Background(), client)
	if err != nil {
		t.Fatalf("CollectDeviceInfo() unexpected error: %v", err)
	}
	if len(info.Devs) != 2 || len(info.Temps) != 1 || len(info.Fans) != 1 {
		t.Fatalf("blocks = %d/%d/%d, want 2/1/1", len(info.Devs), len(info.Temps), len(info.Fans))
	}
	if info.Devs[1].MHS1m != 13480000 {
		t.Errorf("Devs[1].MHS1m = %v, want 13480000", info.Devs[1].MHS1m)
	}
	if temp, ok := info.TempByID(0); !ok || temp.Chip != 71.5 {
		t.Errorf("TempByID(0) = %+v/%v, want Chip 71.5", temp, ok)
	}
}
