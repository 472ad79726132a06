package world

// Last-Writer-Wins: обе стороны соединения применяют одно и то же правило,
// поэтому оно живёт в доменном пакете, а не в клиенте или сервере.

// IncomingWins решает, побеждает ли входящая правка локальную запись.
// Сравнивается max(serverTs, clientTs) входящего сообщения с временем
// локальной записи; при равенстве побеждает входящая (удалённая) правка —
// одновременные правки разрешаются порядком прихода на сервер, что
// детерминированно, но не каузально.
func IncomingWins(incomingServerTs, incomingClientTs, localTs int64) bool {
	incoming := incomingServerTs
	if incomingClientTs > incoming {
		incoming = incomingClientTs
	}
	return incoming >= localTs
}
