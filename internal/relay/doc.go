// Package relay implements the loopback rendezvous protocol that hands host
// launch parameters from a broadcasting process to a requesting one.
//
// Messages are ASCII with fields separated by ';'. Each write carries one
// message and no terminator; a read is taken as one message unless it holds
// '\n', in which case each line is a message:
//
//	BCST;<id>;<args...>   broadcaster announces id      -> RELAY_ACCEPT | RELAY_REJECTED
//	RQST;<id>             requester asks for id         -> CNCT;<args...> | NFND
//	CNCT;<args...>        broker hands args to a requester, as a reply or a later push
//
// A Broker matches the two sides. A Broadcaster that finds no broker on its
// port hosts one itself, seeded with its own record.
package relay
