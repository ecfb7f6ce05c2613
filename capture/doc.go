/*
Package capture reads packets from network interfaces or pcap files and
hands them to a PacketHandler. Live capture uses libpcap by default, or
linux AF_PACKET sockets with the raw_socket and af_packet engines. A BPF filter restricting the
capture to the target ports (both directions) is applied to every handle.

example:

	listener, err := capture.NewListener(host, ports, opts, handler)
	if err != nil {
		// handle error
	}
	err = listener.Activate()
	if err != nil {
		// handle it
	}

	errCh := listener.ListenBackground(ctx) // runs in the background
	<-listener.Reading                      // reading has started
*/
package capture
