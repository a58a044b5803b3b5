package cluster

import "net"

// DetermineHostAddress reports the address other hosts can reach this one
// at. Dialing UDP sends no packet; it only asks the kernel which source
// address it would route from. Hosts with no route fall back to loopback.
func DetermineHostAddress() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}
