// Package protocol implements parsing and serialising for the console
// control protocol that connects an emulator UI process to its core process.
//
// The protocol has two phases on every socket.
//
// === Console phase
//
// The core listens on a console port (5554, 5556, ...). Everything in this
// phase is text, lines are `\r\n` terminated, and is case sensitive.
//
//   ```
//     < Android Console: type 'help' for a list of commands\r\n
//     < OK\r\n
//     > qemu <stream>[ <args>]\r\n
//     < OK[ <handshake>]\r\n
//     < OK\r\n
//   ```
//
// The core rejects a switch with `KO <message>\r\n` and no second line. A
// rejected socket is not reusable, the client must reconnect.
//
// Streams are
//
// - `attach-UI`          - held open by the UI so the core notices it leaving
// - `ui-core-control`    - UI to core commands, some with responses
// - `core-ui-control`    - core to UI commands
// - `user-events`        - UI to core input events, fire and forget
// - `framebuffer <proto>`- core to UI screen updates, only `-raw` exists
//
// === Stream phase
//
// After a switch the socket only carries binary frames of the chosen stream.
// All integers are little endian.
//
//   ```
//     [1 byte type][4 byte param_size][param_size bytes]
//   ```
//
// Request/response commands are answered with
//
//   ```
//     [4 byte i32 result][4 byte resp_data_size][resp_data_size bytes]
//   ```
//
// Variable length strings are NUL terminated inside the parameter buffer,
// their length is implied by param_size minus the fixed prefix.
//
// ==== Framebuffer updates
//
// The framebuffer stream sends the pixel format in its handshake, e.g.
// `OK bitsperpixel=32`. Updates from the core are not command frames:
//
//   ```
//     [2 byte x][2 byte y][2 byte w][2 byte h][w*h*bytes_per_pixel bytes]
//   ```
//
// The UI may send a single Refresh command frame to ask for the whole screen.
package protocol
