package flake

import "net"

// Lower16BitPrivateIP returns the last two octets of the first private IPv4
// address found on an up, non-loopback interface.
func Lower16BitPrivateIP() (uint16, error) {
	addrs, err := interfaceAddrs()
	if err != nil {
		return 0, err
	}
	ip := firstPrivateIPv4(addrs)
	if ip == nil {
		return 0, ErrNoPrivateIPv4
	}
	return lower16Bit(ip), nil
}

func interfaceAddrs() ([]net.Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var addrs []net.Addr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		ifAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		addrs = append(addrs, ifAddrs...)
	}
	return addrs, nil
}

func firstPrivateIPv4(addrs []net.Addr) net.IP {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		default:
			continue
		}
		if ip4 := ip.To4(); ip4 != nil && isPrivateIPv4(ip4) {
			return ip4
		}
	}
	return nil
}

// isPrivateIPv4 reports whether ip is in 10/8, 172.16/12 or 192.168/16.
func isPrivateIPv4(ip net.IP) bool {
	return ip[0] == 10 ||
		ip[0] == 172 && ip[1] >= 16 && ip[1] < 32 ||
		ip[0] == 192 && ip[1] == 168
}

func lower16Bit(ip net.IP) uint16 {
	return uint16(ip[2])<<8 + uint16(ip[3])
}
