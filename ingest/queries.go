package ingest

import (
	"encoding/binary"
	"net"

	"github.com/netresearch/tauproxy/metricstore"
	"github.com/netresearch/tauproxy/wire"
)

// handleListAll writes the LIST_ALL reply: int32 N, then exactly N
// Descriptor records, padding with {type=NULL} descriptors if the store
// shrank mid-iteration (a defensive case preserved from main.c even though
// this store never removes records at runtime).
func (s *Server) handleListAll(conn net.Conn) error {
	count := s.main.Count()
	if err := writeCount(conn, count); err != nil {
		return err
	}

	written := 0
	var werr error
	s.main.Iterate(func(r *metricstore.Record) bool {
		if written >= count {
			return true
		}
		if werr = wire.WriteDescriptor(conn, wire.Descriptor{Name: r.Name, Doc: r.Doc, Type: r.Type}); werr != nil {
			return true
		}
		written++
		return written >= count
	})
	if werr != nil {
		return werr
	}
	return padDescriptors(conn, count-written)
}

// handleGetAll writes the GET_ALL reply: int32 N, then exactly N
// Event records, similarly padded.
func (s *Server) handleGetAll(conn net.Conn) error {
	count := s.main.Count()
	if err := writeCount(conn, count); err != nil {
		return err
	}

	written := 0
	var werr error
	s.main.Iterate(func(r *metricstore.Record) bool {
		if written >= count {
			return true
		}
		if werr = wire.WriteEvent(conn, wire.Event{Name: r.Name, Value: r.Value()}); werr != nil {
			return true
		}
		written++
		return written >= count
	})
	if werr != nil {
		return werr
	}
	return padEvents(conn, count-written)
}

// handleGetOne writes the GET_ONE reply: one Event, empty name + zero
// value if not found. The query name arrives as a Descriptor-shaped read;
// only its Name field is used.
func (s *Server) handleGetOne(conn net.Conn, env wire.Envelope) error {
	d, err := wire.DecodeDescriptor(env.Payload)
	if err != nil {
		return err
	}

	r, ok := s.main.Get(d.Name)
	if !ok {
		return wire.WriteEvent(conn, wire.Event{})
	}
	return wire.WriteEvent(conn, wire.Event{Name: r.Name, Value: r.Value()})
}

func writeCount(conn net.Conn, n int) error {
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], uint32(n))
	_, err := conn.Write(buf[:])
	return err
}

func padDescriptors(conn net.Conn, n int) error {
	for i := 0; i < n; i++ {
		if err := wire.WriteDescriptor(conn, wire.Descriptor{Type: wire.TypeNone}); err != nil {
			return err
		}
	}
	return nil
}

func padEvents(conn net.Conn, n int) error {
	for i := 0; i < n; i++ {
		if err := wire.WriteEvent(conn, wire.Event{}); err != nil {
			return err
		}
	}
	return nil
}
