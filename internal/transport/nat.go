package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway2"
	"github.com/pion/stun"
	"github.com/rs/zerolog"
)

type NATType string

const (
	NATOpen      NATType = "open"
	NATModerate  NATType = "moderate"
	NATStrict    NATType = "strict"
	NATSymmetric NATType = "symmetric"
	NATBlocked   NATType = "blocked"
	NATUnknown   NATType = "unknown"
)

var DefaultSTUNServers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
	"stun2.l.google.com:19302",
}

type NATInfo struct {
	Type          NATType
	PublicIP      string
	PublicPort    int
	LocalIP       string
	LocalPort     int
	UPnPAvailable bool
	UPnPMapped    bool
	STUNReachable bool
	Error         string
}

// NATTraversal maps a UDP port through UPnP and learns the public endpoint
// through STUN.
type NATTraversal struct {
	log          zerolog.Logger
	stunServers  []string
	externalPort int
	upnp         *internetgateway2.WANIPConnection1
	mapped       bool
}

func NewNATTraversal(stunServers []string, log zerolog.Logger) *NATTraversal {
	if len(stunServers) == 0 {
		stunServers = DefaultSTUNServers
	}
	return &NATTraversal{log: log, stunServers: stunServers}
}

func (nt *NATTraversal) discoverGateway() (*internetgateway2.WANIPConnection1, error) {
	if nt.upnp != nil {
		return nt.upnp, nil
	}
	clients, _, err := internetgateway2.NewWANIPConnection1Clients()
	if err != nil {
		return nil, fmt.Errorf("UPnP discovery: %w", err)
	}
	if len(clients) == 0 {
		return nil, errors.New("no UPnP-enabled gateway found")
	}
	nt.upnp = clients[0]
	return nt.upnp, nil
}

// MapPort forwards external UDP port to localPort on this host.
func (nt *NATTraversal) MapPort(localPort, externalPort int, description string) error {
	gw, err := nt.discoverGateway()
	if err != nil {
		return err
	}
	externalIP, err := gw.GetExternalIPAddress()
	if err != nil {
		return fmt.Errorf("get external IP: %w", err)
	}
	localIP, err := localIP()
	if err != nil {
		return fmt.Errorf("get local IP: %w", err)
	}

	// lease 0 keeps the mapping until it is removed
	if err := gw.AddPortMapping("", uint16(externalPort), "UDP", uint16(localPort), localIP, true, description, 0); err != nil {
		return fmt.Errorf("add UPnP port mapping: %w", err)
	}
	nt.externalPort = externalPort
	nt.mapped = true
	nt.log.Info().Str("external", fmt.Sprintf("%s:%d", externalIP, externalPort)).
		Str("internal", fmt.Sprintf("%s:%d", localIP, localPort)).Msg("UPnP port mapping created")
	return nil
}

func (nt *NATTraversal) RemovePortMapping() error {
	if !nt.mapped || nt.upnp == nil {
		return nil
	}
	if err := nt.upnp.DeletePortMapping("", uint16(nt.externalPort), "UDP"); err != nil {
		return fmt.Errorf("remove port mapping: %w", err)
	}
	nt.mapped = false
	nt.log.Info().Int("port", nt.externalPort).Msg("UPnP port mapping removed")
	return nil
}

// DiscoverPublicEndpoint asks each STUN server in turn for the address conn
// is seen from, returning the first answer.
func (nt *NATTraversal) DiscoverPublicEndpoint(conn *net.UDPConn) (*net.UDPAddr, error) {
	var lastErr error
	for _, server := range nt.stunServers {
		addr, err := stunRequest(conn, server)
		if err != nil {
			nt.log.Debug().Err(err).Str("server", server).Msg("STUN request failed")
			lastErr = err
			continue
		}
		nt.log.Info().Str("server", server).Str("public", addr.String()).Msg("STUN discovery succeeded")
		return addr, nil
	}
	return nil, fmt.Errorf("all STUN servers failed: %w", lastErr)
}

// Classify works out the NAT type from how conn is seen by two STUN servers.
func (nt *NATTraversal) Classify(conn *net.UDPConn, first *net.UDPAddr) NATType {
	if first == nil {
		return NATBlocked
	}
	local, err := localIP()
	if err != nil {
		return NATUnknown
	}
	if first.IP.String() == local {
		return NATOpen
	}
	if len(nt.stunServers) > 1 {
		second, err := stunRequest(conn, nt.stunServers[len(nt.stunServers)-1])
		if err == nil && second.Port != first.Port {
			return NATSymmetric
		}
	}
	if _, err := nt.discoverGateway(); err == nil {
		return NATModerate
	}
	return NATStrict
}

func stunRequest(conn *net.UDPConn, server string) (*net.UDPAddr, error) {
	serverAddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, fmt.Errorf("resolve STUN server: %w", err)
	}

	conn.SetDeadline(time.Now().Add(3 * time.Second))
	defer conn.SetDeadline(time.Time{})

	req := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if _, err := conn.WriteToUDP(req.Raw, serverAddr); err != nil {
		return nil, fmt.Errorf("send STUN request: %w", err)
	}

	buf := make([]byte, 1024)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return nil, fmt.Errorf("receive STUN response: %w", err)
		}
		if !from.IP.Equal(serverAddr.IP) || !stun.IsMessage(buf[:n]) {
			continue
		}
		res := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := res.Decode(); err != nil {
			return nil, fmt.Errorf("decode STUN response: %w", err)
		}
		if res.TransactionID != req.TransactionID {
			continue
		}
		var xor stun.XORMappedAddress
		if err := xor.GetFrom(res); err != nil {
			return nil, fmt.Errorf("read XOR-MAPPED-ADDRESS: %w", err)
		}
		return &net.UDPAddr{IP: xor.IP, Port: xor.Port}, nil
	}
}

func localIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// SetupNAT runs STUN discovery over conn and, if asked, maps the socket's
// port through UPnP. Failures are recorded in the returned info; the error
// is only non-nil when ctx is cancelled.
func SetupNAT(ctx context.Context, conn *net.UDPConn, description string, useUPnP, useSTUN bool, stunServers []string, log zerolog.Logger) (*NATTraversal, *NATInfo, error) {
	nt := NewNATTraversal(stunServers, log)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	info := &NATInfo{Type: NATUnknown, LocalPort: port}
	if ip, err := localIP(); err == nil {
		info.LocalIP = ip
	}

	if useSTUN {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		public, err := nt.DiscoverPublicEndpoint(conn)
		if err != nil {
			info.Error = err.Error()
		} else {
			info.STUNReachable = true
			info.PublicIP = public.IP.String()
			info.PublicPort = public.Port
		}
		info.Type = nt.Classify(conn, public)
	}

	if useUPnP {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if _, err := nt.discoverGateway(); err == nil {
			info.UPnPAvailable = true
			if err := nt.MapPort(port, port, description); err != nil {
				info.Error = err.Error()
			} else {
				info.UPnPMapped = true
			}
		} else {
			log.Info().Err(err).Msg("UPnP not available, manual port forwarding may be required")
		}
	}

	log.Info().Str("type", string(info.Type)).Str("public", fmt.Sprintf("%s:%d", info.PublicIP, info.PublicPort)).
		Bool("upnp", info.UPnPMapped).Bool("stun", info.STUNReachable).Msg("NAT setup complete")
	return nt, info, nil
}
