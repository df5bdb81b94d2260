package oscin

import (
	"testing"

	"github.com/hypebeast/go-osc/osc"

	"github.com/cbegin/hapticbridge-go/internal/process"
)

func TestSignalFromMessageFloat(t *testing.T) {
	msg := osc.NewMessage("/avatar/parameters/Vibrator_0")
	msg.Append(float32(0.37))

	sig, ok := SignalFromMessage(msg)
	if !ok || sig.Msg == nil {
		t.Fatal("expected a signal")
	}
	if sig.Msg.Addr != "/avatar/parameters/Vibrator_0" {
		t.Errorf("addr = %s", sig.Msg.Addr)
	}
	if sig.Msg.Arg.IsBool() || process.Quantize(sig.Msg.Arg.FloatValue()) != 0.37 {
		t.Errorf("arg = %+v", sig.Msg.Arg)
	}
}

func TestSignalFromMessageBool(t *testing.T) {
	msg := osc.NewMessage("/avatar/parameters/Touch")
	msg.Append(true)

	sig, ok := SignalFromMessage(msg)
	if !ok || !sig.Msg.Arg.IsBool() || !sig.Msg.Arg.BoolValue() {
		t.Fatalf("got %+v %v", sig, ok)
	}
}

func TestSignalFromMessageTakesLastArgument(t *testing.T) {
	msg := osc.NewMessage("/avatar/parameters/Multi")
	msg.Append(float32(0.1))
	msg.Append(float32(0.9))

	sig, ok := SignalFromMessage(msg)
	if !ok || process.Quantize(sig.Msg.Arg.FloatValue()) != 0.9 {
		t.Fatalf("last argument should win, got %+v", sig.Msg.Arg)
	}
}

func TestSignalFromMessageDropsUnsupported(t *testing.T) {
	msg := osc.NewMessage("/avatar/parameters/Weird")
	msg.Append(int32(7))
	if _, ok := SignalFromMessage(msg); ok {
		t.Fatal("int argument should be dropped")
	}

	empty := osc.NewMessage("/avatar/parameters/Empty")
	if _, ok := SignalFromMessage(empty); ok {
		t.Fatal("argument-less message should be dropped")
	}
}

func TestNetworkingDefaults(t *testing.T) {
	var n Networking
	n.Defaults()
	if n.BindPort != 9001 || n.RemotePort != 9000 {
		t.Fatalf("defaults = %+v", n)
	}
	if n.bindAddr() != "127.0.0.1:9001" {
		t.Fatalf("bindAddr = %s", n.bindAddr())
	}
}
