package sandbox

// adapterPrelude is the small JS prelude every unit runs behind, per spec
// §4.2: it exposes postMessage, which appends to the __outbox array (no
// onmessage handler is defined), and a listen() trap that Service-mode units call instead of binding a real
// socket (the adapter owns the real listener; see service.go).
const adapterPrelude = `
globalThis.__outbox = [];
globalThis.postMessage = function(msg) { globalThis.__outbox.push(msg); };
globalThis.__listenHandler = null;
globalThis.listen = function(handler) { globalThis.__listenHandler = handler; };
`
