package ingest

import "fmt"

// renderUploaderPage is the minimal static page a browser loads before
// opening the companion WebSocket. It has no external dependencies so
// it works on a LAN with no internet access, per spec.md §4.7.
func renderUploaderPage(token string) string {
	return fmt.Sprintf(uploaderPageTemplate, token)
}

const uploaderPageTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Send a file</title></head>
<body>
<input type="file" id="f">
<progress id="p" value="0" max="100"></progress>
<span id="status">choose a file</span>
<script>
var sock = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/%s/ws");
var status = document.getElementById("status");
var bar = document.getElementById("p");
var file;

document.getElementById("f").addEventListener("change", function(e) {
	file = e.target.files[0];
	sock.send(JSON.stringify({type: "file_info", file_name: file.name, file_size: file.size}));
});

sock.onmessage = function(ev) {
	if (typeof ev.data !== "string") return;
	var msg = JSON.parse(ev.data);
	if (msg.type === "accepted") {
		status.textContent = "sending...";
		sendChunks();
	} else if (msg.type === "rejected") {
		status.textContent = "rejected: " + msg.reason;
	} else if (msg.type === "progress") {
		bar.value = Math.round(100 * msg.received_bytes / file.size);
	} else if (msg.type === "complete") {
		status.textContent = "done";
	} else if (msg.type === "error") {
		status.textContent = "error: " + msg.message;
	}
};

function sendChunks() {
	var chunkSize = 256 * 1024;
	var offset = 0;
	var reader = new FileReader();
	reader.onload = function(e) {
		sock.send(e.target.result);
		offset += e.target.result.byteLength;
		if (offset < file.size) {
			readNext();
		}
	};
	function readNext() {
		reader.readAsArrayBuffer(file.slice(offset, offset + chunkSize));
	}
	readNext();
}
</script>
</body>
</html>
`
