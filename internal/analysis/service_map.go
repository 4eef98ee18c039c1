package analysis

import "strconv"

var commonPorts = map[int]string{
	20:   "FTP-DATA",
	21:   "FTP",
	22:   "SSH",
	23:   "Telnet",
	25:   "SMTP",
	53:   "DNS",
	67:   "DHCP",
	80:   "HTTP",
	110:  "POP3",
	137:  "NetBIOS",
	143:  "IMAP",
	389:  "LDAP",
	443:  "HTTPS",
	445:  "SMB",
	853:  "DoT",
	3306: "MySQL",
	5432: "PostgreSQL",
	6379: "Redis",
	8080: "HTTP-Alt",
}

// ServiceName returns the well-known name for port, or the number itself.
func ServiceName(port int) string {
	if name, ok := commonPorts[port]; ok {
		return name
	}
	return strconv.Itoa(port)
}
