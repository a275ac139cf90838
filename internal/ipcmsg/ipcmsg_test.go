package ipcmsg

import (
	"reflect"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	cases := []Request{
		{Kind: ReqRegisterClient},
		{Kind: ReqPing},
		{Kind: ReqAddWatch, Path: "/srv/data", Mask: 0x300, Recursive: true},
		{Kind: ReqAddWatch, Path: "/tmp/x", Mask: 0x100, Recursive: false},
		{Kind: ReqAddWatch, Path: "/mnt/media", Mask: 0x100, Recursive: true, PollIntervalSecs: 10},
		{Kind: ReqRemoveWatch, Wd: 7},
		{Kind: ReqListWatches},
	}
	for _, in := range cases {
		b, err := EncodeRequest(in)
		if err != nil {
			t.Fatalf("EncodeRequest(%+v): %v", in, err)
		}
		out, err := DecodeRequest(b)
		if err != nil {
			t.Fatalf("DecodeRequest: %v", err)
		}
		if out != in {
			t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
		}
	}
}

func TestResponseRoundTrip(t *testing.T) {
	cases := []Response{
		{Kind: RespClientRegistered, ClientID: 12345},
		{Kind: RespWatchAdded, Wd: 3},
		{Kind: RespWatchRemoved},
		{Kind: RespPong},
		{Kind: RespError, Message: "no such path"},
		{Kind: RespWatchList, Watches: []WatchInfo{}},
		{Kind: RespWatchList, Watches: []WatchInfo{
			{Wd: 1, Path: "/srv/data", Mask: 0x300, Recursive: true},
			{Wd: 2, Path: "/tmp/x", Mask: 0x100, Recursive: false},
		}},
	}
	for _, in := range cases {
		b, err := EncodeResponse(in)
		if err != nil {
			t.Fatalf("EncodeResponse(%+v): %v", in, err)
		}
		out, err := DecodeResponse(b)
		if err != nil {
			t.Fatalf("DecodeResponse: %v", err)
		}
		if !reflect.DeepEqual(out, in) {
			t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
		}
	}
}

func TestNewError(t *testing.T) {
	resp := NewError("watch %d not found", 9)
	if resp.Kind != RespError {
		t.Fatalf("Kind = %v, want RespError", resp.Kind)
	}
	if resp.Message != "watch 9 not found" {
		t.Errorf("Message = %q", resp.Message)
	}
}
