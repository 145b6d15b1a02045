package discovery

import (
	"os"
	"testing"

	"go.uber.org/zap"
)

func TestServiceRegistrationDefaults(t *testing.T) {
	reg := serviceRegistration(Registration{ServiceName: "chat", InstanceID: "chat-1", Port: 8080})
	if reg.Check.HTTP != "http://127.0.0.1:8080/healthz" {
		t.Fatalf("check url = %s", reg.Check.HTTP)
	}
	if reg.ID != "chat-1" || reg.Name != "chat" || reg.Port != 8080 {
		t.Fatalf("unexpected registration %+v", reg)
	}
}

func TestAgentRoundTrip(t *testing.T) {
	addr := os.Getenv("CONSUL_ADDR")
	if addr == "" {
		t.Skip("CONSUL_ADDR not set")
	}
	a, err := NewAgent(addr, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Register(Registration{ServiceName: "chat-test", InstanceID: "chat-test-1", Address: "127.0.0.1", Port: 1}); err != nil {
		t.Fatal(err)
	}
	if err := a.Deregister(); err != nil {
		t.Fatal(err)
	}
	if err := a.Deregister(); err != nil {
		t.Fatalf("second deregister should be a no-op: %v", err)
	}
}
