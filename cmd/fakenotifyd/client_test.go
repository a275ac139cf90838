package main

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/zachhandley/fakenotify/internal/framing"
	"github.com/zachhandley/fakenotify/internal/ipcmsg"
)

func serveOneFakeDaemonConn(conn net.Conn) {
	defer conn.Close()

	registered, _ := ipcmsg.EncodeResponse(ipcmsg.Response{Kind: ipcmsg.RespClientRegistered, ClientID: 1})
	if err := framing.Write(conn, registered); err != nil {
		return
	}

	payload, err := framing.Read(conn)
	if err != nil {
		return
	}
	req, err := ipcmsg.DecodeRequest(payload)
	if err != nil || req.Kind != ipcmsg.ReqPing {
		return
	}
	pong, _ := ipcmsg.EncodeResponse(ipcmsg.Response{Kind: ipcmsg.RespPong})
	framing.Write(conn, pong) //nolint:errcheck
}

func TestIsDaemonRunningNoSocket(t *testing.T) {
	if isDaemonRunning(filepath.Join(t.TempDir(), "nope.sock")) {
		t.Fatal("expected no daemon running against a nonexistent socket")
	}
}

func TestIsDaemonRunningAndSendDaemonRequest(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "fakenotify.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveOneFakeDaemonConn(conn)
		}
	}()

	if !isDaemonRunning(sockPath) {
		t.Fatal("expected daemon to be detected as running")
	}

	resp, err := sendDaemonRequest(sockPath, ipcmsg.Request{Kind: ipcmsg.ReqPing})
	if err != nil {
		t.Fatalf("sendDaemonRequest: %v", err)
	}
	if resp.Kind != ipcmsg.RespPong {
		t.Errorf("Kind = %v, want RespPong", resp.Kind)
	}
}
