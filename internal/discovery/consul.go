package discovery

import (
	"fmt"
	"net"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

type Registration struct {
	ServiceName string
	InstanceID  string
	Address     string
	Port        int
	HealthPath  string
	Tags        []string
}

// Agent registers this instance with the local Consul agent.
type Agent struct {
	client *consulapi.Client
	log    *zap.Logger
	id     string
}

func NewAgent(addr string, log *zap.Logger) (*Agent, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Agent{client: client, log: log}, nil
}

func serviceRegistration(r Registration) *consulapi.AgentServiceRegistration {
	host := r.Address
	if host == "" {
		host = "127.0.0.1"
	}
	path := r.HealthPath
	if path == "" {
		path = "/healthz"
	}
	return &consulapi.AgentServiceRegistration{
		ID:      r.InstanceID,
		Name:    r.ServiceName,
		Address: r.Address,
		Port:    r.Port,
		Tags:    r.Tags,
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s%s", net.JoinHostPort(host, strconv.Itoa(r.Port)), path),
			Interval:                       "10s",
			Timeout:                        "2s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
}

func (a *Agent) Register(r Registration) error {
	if err := a.client.Agent().ServiceRegister(serviceRegistration(r)); err != nil {
		return fmt.Errorf("consul register: %w", err)
	}
	a.id = r.InstanceID
	a.log.Info("registered with consul", zap.String("service", r.ServiceName), zap.String("id", r.InstanceID))
	return nil
}

func (a *Agent) Deregister() error {
	if a.id == "" {
		return nil
	}
	if err := a.client.Agent().ServiceDeregister(a.id); err != nil {
		return fmt.Errorf("consul deregister: %w", err)
	}
	a.log.Info("deregistered from consul", zap.String("id", a.id))
	a.id = ""
	return nil
}

// Lookup returns the base URL of a healthy instance of service.
func (a *Agent) Lookup(service string) (string, error) {
	entries, _, err := a.client.Health().Service(service, "", true, nil)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no healthy instances for %s", service)
	}
	e := entries[0]
	addr := e.Service.Address
	if addr == "" {
		addr = e.Node.Address
	}
	return "http://" + net.JoinHostPort(addr, strconv.Itoa(e.Service.Port)), nil
}
